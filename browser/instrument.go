package browser

import (
	"encoding/json"
	"strings"
)

const bindingName = "__ttwRecord"

// instrumentationBody reports click, submit and change events through
// report(payload). It is shared by the playwright binding and the websocket
// variant served to externally opened windows.
const instrumentationBody = `
  if (window.__ttwInstrumented) return;
  window.__ttwInstrumented = true;
  var describe = function (type, el) {
    return {
      type: type,
      target: (el && el.tagName) || "",
      id: (el && el.id) || "",
      name: (el && el.getAttribute && el.getAttribute("name")) || "",
      value: el && typeof el.value === "string" ? el.value : ""
    };
  };
  ["click", "submit", "change"].forEach(function (type) {
    document.addEventListener(type, function (event) {
      try { report(describe(type, event.target)); } catch (e) {}
    }, true);
  });
`

// InstrumentationScript is injected into every page of a tracked context and
// reports through the exposed playwright binding.
func InstrumentationScript() string {
	return "(function () {\n  var report = function (payload) { return window." + bindingName + "(payload); };" +
		instrumentationBody + "})();\n"
}

// WebSocketInstrumentationScript reports over a websocket instead, tagging
// every message with source. It is meant for windows the server did not open.
func WebSocketInstrumentationScript(wsURL, source string) string {
	quotedURL, _ := json.Marshal(wsURL)
	quotedSource, _ := json.Marshal(source)

	var b strings.Builder
	b.WriteString("(function () {\n")
	b.WriteString("  var socket = new WebSocket(" + string(quotedURL) + ");\n")
	b.WriteString("  var pending = [];\n")
	b.WriteString("  socket.addEventListener(\"open\", function () { pending.splice(0).forEach(function (m) { socket.send(m); }); });\n")
	b.WriteString("  var report = function (payload) {\n")
	b.WriteString("    payload.source = " + string(quotedSource) + ";\n")
	b.WriteString("    var message = JSON.stringify(payload);\n")
	b.WriteString("    if (socket.readyState === 1) { socket.send(message); } else { pending.push(message); }\n")
	b.WriteString("  };")
	b.WriteString(instrumentationBody)
	b.WriteString("})();\n")
	return b.String()
}
