package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSStringAndJSONHelpers(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}

	got := jsJSON(map[string]any{"a": 1, "b": true})
	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("jsJSON decoded map has %d fields, want 2", len(m))
	}
	if m["b"] != true {
		t.Fatalf("jsJSON decoded map = %v, want b=true", m["b"])
	}
}

func TestJSEvalWrapper(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}
}

func TestOverlayScriptsCarryConfiguration(t *testing.T) {
	hooks := jsInstallHooks("a.my-refresh")
	for _, want := range []string{BindingName, `"a.my-refresh"`, "MutationObserver", panelID, containerID} {
		if !strings.Contains(hooks, want) {
			t.Fatalf("jsInstallHooks() missing %q", want)
		}
	}

	spot := jsReadSpot([]string{"#equity_underlyingVal", "#x"})
	if !strings.Contains(spot, `["#equity_underlyingVal","#x"]`) {
		t.Fatalf("jsReadSpot() selectors not embedded: %s", spot)
	}

	// Markup is passed as a JS string literal, never spliced raw.
	paint := jsPaint(`<div class="oi-body">"quoted"</div>`)
	if strings.Contains(paint, `<div class="oi-body">`) || !strings.Contains(paint, `\"quoted\"`) {
		t.Fatalf("jsPaint() did not quote markup: %s", paint)
	}

	if !strings.Contains(jsProbeTables(), TableIDAttr) {
		t.Fatal("jsProbeTables() does not stamp table identities")
	}
	if !strings.Contains(jsRemovePanel(), "disconnect") {
		t.Fatal("jsRemovePanel() does not disconnect the observer")
	}
}
