package cdpcontrol

import "encoding/json"

const (
	// BindingName is the window function the page hooks call to reach the daemon.
	BindingName = "__oiOverlayNotify"
	// TableIDAttr carries the identity token stamped on each probed table.
	TableIDAttr = "data-oi-table-id"

	panelID     = "oiHistogramPanel"
	containerID = "oiContainer"
)

// jsPreamble binds the shared overlay state and the notify helper.
const jsPreamble = `
var w = window;
var st = w.__oiOverlay || (w.__oiOverlay = {seq: 0});
function _notify(msg) {
  try { if (typeof w.` + BindingName + ` === "function") w.` + BindingName + `(JSON.stringify(msg)); } catch(_) {}
}
function _ok(data) { return JSON.stringify({ok:true,data:data}); }
function _fail(code, msg) { return JSON.stringify({ok:false,error_code:code,error_message:msg}); }
`

// jsCellsHelper reads the visible text of a row's cells.
const jsCellsHelper = `
function _cells(tr) {
  var out = [];
  var cs = tr.children;
  for (var i = 0; i < cs.length; i++) {
    var tag = cs[i].tagName;
    if (tag !== "TD" && tag !== "TH") continue;
    var txt = cs[i].innerText !== undefined ? cs[i].innerText : cs[i].textContent;
    out.push(String(txt || "").replace(/\s+/g, " ").trim());
    var span = parseInt(cs[i].getAttribute("colspan") || "1", 10);
    for (var k = 1; k < span && k < 64; k++) out.push("");
  }
  return out;
}
`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return "(function(){\n" + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}
