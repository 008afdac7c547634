package cdpcontrol

const panelCSS = `
#` + panelID + `{position:fixed;top:70px;left:10px;width:92%;max-width:420px;background:#fff;border-radius:16px;box-shadow:0 4px 20px rgba(0,0,0,.3);z-index:9999999;font-family:sans-serif;overflow:hidden}
#` + panelID + ` .oi-head{background:#0a73eb;color:#fff;padding:8px 12px;font-weight:700;cursor:grab;display:flex;gap:6px;align-items:center;user-select:none}
#` + panelID + ` .oi-head .oi-title{flex:1}
#` + panelID + ` .oi-head button{background:rgba(255,255,255,.18);color:#fff;border:0;border-radius:6px;padding:2px 8px;cursor:pointer;font-weight:700}
#` + containerID + `{height:70vh;overflow:auto;padding:10px;font-size:12px}
#` + containerID + ` .oi-meta{color:#555;margin-bottom:6px}
#` + containerID + ` .oi-msg{color:#a15c00;margin-bottom:6px}
#` + containerID + ` .oi-row{padding:4px 0;border-bottom:1px solid #eee}
#` + containerID + ` .oi-atm{background:#fff6d6}
#` + containerID + ` .oi-strike{font-weight:700}
#` + containerID + ` .oi-line{display:flex;align-items:center;gap:6px}
#` + containerID + ` .oi-label{width:58px;color:#666}
#` + containerID + ` .oi-track{flex:1;background:#f3f3f3;height:10px;border-radius:3px}
#` + containerID + ` .oi-bar{height:10px;border-radius:3px;background:#16a34a}
#` + containerID + ` .oi-put_oi .oi-bar,#` + containerID + ` .oi-put_change .oi-bar{background:#dc2626}
#` + containerID + ` .oi-bar.oi-neg{opacity:.45}
#` + containerID + ` .oi-val{width:70px;text-align:right}
#` + containerID + ` .oi-delta{width:54px;text-align:right;color:#555}
`

// jsInstallHooks creates the panel frame once per document and installs the mutation
// observer and the refresh click listener. Mutations inside the panel are ignored so a
// paint never feeds back into another redraw.
func jsInstallHooks(refreshSelector string) string {
	return wrapJSEval(jsPreamble + `
var doc = document;
if (!doc.body) return _fail("` + CodeNotFound + `", "document has no body");
var css = ` + jsString(panelCSS) + `;
if (!doc.getElementById("oiOverlayStyle")) {
  var style = doc.createElement("style");
  style.id = "oiOverlayStyle";
  style.textContent = css;
  doc.head.appendChild(style);
}
var panel = doc.getElementById("` + panelID + `");
if (!panel) {
  panel = doc.createElement("div");
  panel.id = "` + panelID + `";
  panel.innerHTML = '<div class="oi-head"><span class="oi-title">OI Histogram</span>' +
    '<button data-oi="minus" title="Fewer strikes">−</button>' +
    '<button data-oi="plus" title="More strikes">+</button>' +
    '<button data-oi="center" title="Center on ATM">◎</button>' +
    '<button data-oi="close" title="Close">✖</button></div>' +
    '<div id="` + containerID + `">Loading…</div>';
  doc.body.appendChild(panel);

  panel.addEventListener("click", function(e) {
    var b = e.target && e.target.closest ? e.target.closest("[data-oi]") : null;
    if (!b) return;
    var a = b.getAttribute("data-oi");
    if (a === "plus") _notify({kind:"control",control:"radius",delta:1});
    else if (a === "minus") _notify({kind:"control",control:"radius",delta:-1});
    else if (a === "center") _notify({kind:"control",control:"toggle_centering"});
    else if (a === "close") _notify({kind:"control",control:"close"});
  });

  var head = panel.querySelector(".oi-head");
  var drag = null;
  var startDrag = function(x, y, target) {
    if (target && target.closest && target.closest("button")) return;
    var r = panel.getBoundingClientRect();
    drag = {dx: x - r.left, dy: y - r.top};
    head.style.cursor = "grabbing";
  };
  var moveDrag = function(x, y) {
    if (!drag) return;
    panel.style.left = (x - drag.dx) + "px";
    panel.style.top = (y - drag.dy) + "px";
  };
  var endDrag = function() { drag = null; head.style.cursor = "grab"; };
  head.addEventListener("mousedown", function(e) { startDrag(e.clientX, e.clientY, e.target); });
  head.addEventListener("touchstart", function(e) { var t = e.touches[0]; startDrag(t.clientX, t.clientY, e.target); }, {passive:true});
  st.onMove = function(e) { moveDrag(e.clientX, e.clientY); };
  st.onTouchMove = function(e) { var t = e.touches[0]; if (t) moveDrag(t.clientX, t.clientY); };
  st.onEnd = endDrag;
  doc.addEventListener("mousemove", st.onMove);
  doc.addEventListener("touchmove", st.onTouchMove, {passive:true});
  doc.addEventListener("mouseup", st.onEnd);
  doc.addEventListener("touchend", st.onEnd);
}

if (!st.observer) {
  st.pending = false;
  st.observer = new MutationObserver(function(muts) {
    var p = doc.getElementById("` + panelID + `");
    for (var i = 0; i < muts.length; i++) {
      var t = muts[i].target;
      if (p && t && (t === p || p.contains(t))) continue;
      if (st.pending) return;
      st.pending = true;
      setTimeout(function() { st.pending = false; _notify({kind:"mutation"}); }, 50);
      return;
    }
  });
  st.observer.observe(doc.body, {childList:true, subtree:true, characterData:true});
}

if (!st.onRefresh) {
  var sel = ` + jsString(refreshSelector) + `;
  st.onRefresh = function(e) {
    var a = e.target && e.target.closest ? e.target.closest(sel) : null;
    if (a) _notify({kind:"refresh"});
  };
  doc.addEventListener("click", st.onRefresh, true);
}
return _ok({installed:true,panel:"` + panelID + `"});`)
}

// jsProbeTables reads every table outside the panel. Each table is stamped with an identity
// token on first sight so a replaced element gets a new one.
func jsProbeTables() string {
	return wrapJSEval(jsPreamble + jsCellsHelper + `
var p = document.getElementById("` + panelID + `");
var list = document.querySelectorAll("table");
var out = [];
for (var i = 0; i < list.length; i++) {
  var t = list[i];
  if (p && p.contains(t)) continue;
  var id = t.getAttribute("` + TableIDAttr + `");
  if (!id) {
    st.seq = (st.seq || 0) + 1;
    id = "oi-t" + st.seq;
    t.setAttribute("` + TableIDAttr + `", id);
  }
  var head = [];
  var body = [];
  var trs = t.querySelectorAll("tr");
  for (var j = 0; j < trs.length; j++) {
    var tr = trs[j];
    if (tr.closest("table") !== t) continue;
    var section = tr.parentElement ? tr.parentElement.tagName : "";
    var cells = _cells(tr);
    if (section === "THEAD" || (section !== "TBODY" && tr.querySelector("th") && !tr.querySelector("td"))) head.push(cells);
    else body.push(cells);
  }
  var text = String(t.innerText || t.textContent || "").replace(/\s+/g, " ");
  out.push({id:id, text:text.slice(0, 4000), header_rows:head, rows:body});
}
return _ok({tables:out});`)
}

// jsReadSpot returns the text of the first selector that matches a non-empty element.
func jsReadSpot(selectors []string) string {
	return wrapJSEval(jsPreamble + `
var sels = ` + jsJSON(selectors) + `;
for (var i = 0; i < sels.length; i++) {
  var el = null;
  try { el = document.querySelector(sels[i]); } catch(_) { continue; }
  if (!el) continue;
  var txt = String(el.innerText || el.textContent || "").trim();
  if (txt) return _ok({text:txt, selector:sels[i]});
}
return _ok({text:""});`)
}

// jsPaint replaces the panel body.
func jsPaint(html string) string {
	return wrapJSEval(jsPreamble + `
var box = document.getElementById("` + containerID + `");
if (!box) return _fail("` + CodeNotFound + `", "overlay panel is not installed");
box.innerHTML = ` + jsString(html) + `;
return _ok({painted:true});`)
}

// jsRemovePanel removes the panel and every hook installed by jsInstallHooks.
func jsRemovePanel() string {
	return wrapJSEval(jsPreamble + `
var doc = document;
if (st.observer) { st.observer.disconnect(); st.observer = null; }
if (st.onRefresh) { doc.removeEventListener("click", st.onRefresh, true); st.onRefresh = null; }
if (st.onMove) { doc.removeEventListener("mousemove", st.onMove); st.onMove = null; }
if (st.onTouchMove) { doc.removeEventListener("touchmove", st.onTouchMove); st.onTouchMove = null; }
if (st.onEnd) { doc.removeEventListener("mouseup", st.onEnd); doc.removeEventListener("touchend", st.onEnd); st.onEnd = null; }
var p = doc.getElementById("` + panelID + `");
var removed = false;
if (p) { p.remove(); removed = true; }
var s = doc.getElementById("oiOverlayStyle");
if (s) s.remove();
return _ok({removed:removed});`)
}
