//go:build integration

package integration

import (
	"net/http"
	"testing"
)

type snapshotMeta struct {
	ID        string   `json:"id"`
	PageURL   string   `json:"page_url"`
	Format    string   `json:"format"`
	SizeBytes int64    `json:"size_bytes"`
	Phase     string   `json:"phase"`
	Radius    int      `json:"radius"`
	Notes     string   `json:"notes"`
	Center    *float64 `json:"center_strike"`
}

func listSnapshotIDs(t *testing.T) map[string]bool {
	t.Helper()
	resp := env.GET(t, "/api/v1/snapshots")
	requireStatus(t, resp, http.StatusOK)
	listing := decodeJSON[struct {
		Snapshots []snapshotMeta `json:"snapshots"`
	}](t, resp)
	ids := make(map[string]bool, len(listing.Snapshots))
	for _, s := range listing.Snapshots {
		ids[s.ID] = true
	}
	return ids
}

func TestSnapshotCapturesOverlayState(t *testing.T) {
	st := decodeJSON[overlayState](t, env.GET(t, "/api/v1/state"))

	resp := env.POST(t, "/api/v1/snapshots", map[string]any{"notes": "integration"})
	requireStatus(t, resp, http.StatusOK)
	created := decodeJSON[struct {
		Snapshot snapshotMeta `json:"snapshot"`
		URL      string       `json:"url"`
	}](t, resp)
	id := created.Snapshot.ID
	if id == "" {
		t.Fatal("snapshot id is empty")
	}
	t.Cleanup(func() {
		r := env.DELETE(t, "/api/v1/snapshots/"+id)
		r.Body.Close()
	})

	requireField(t, created.Snapshot.Format, "png", "format")
	requireField(t, created.Snapshot.Notes, "integration", "notes")
	requireField(t, created.Snapshot.Radius, st.Radius, "radius")
	if created.Snapshot.SizeBytes <= 0 {
		t.Fatalf("size_bytes = %d, want > 0", created.Snapshot.SizeBytes)
	}

	if !listSnapshotIDs(t)[id] {
		t.Fatalf("snapshot %s missing from listing", id)
	}

	resp = env.GET(t, "/api/v1/snapshots/"+id+"/metadata")
	requireStatus(t, resp, http.StatusOK)
	meta := decodeJSON[snapshotMeta](t, resp)
	requireField(t, meta.ID, id, "id")

	resp = env.GET(t, created.URL)
	requireStatus(t, resp, http.StatusOK)
	requireField(t, resp.Header.Get("Content-Type"), "image/png", "content-type")
	resp.Body.Close()
}

func TestSnapshotDelete(t *testing.T) {
	resp := env.POST(t, "/api/v1/snapshots", map[string]any{})
	requireStatus(t, resp, http.StatusOK)
	id := decodeJSON[struct {
		Snapshot snapshotMeta `json:"snapshot"`
	}](t, resp).Snapshot.ID

	resp = env.DELETE(t, "/api/v1/snapshots/"+id)
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Status string `json:"status"`
	}](t, resp)
	requireField(t, result.Status, "deleted", "status")

	if listSnapshotIDs(t)[id] {
		t.Fatalf("snapshot %s still listed after delete", id)
	}
	resp = env.GET(t, "/api/v1/snapshots/"+id+"/metadata")
	defer resp.Body.Close()
	requireStatus(t, resp, http.StatusNotFound)
}

func TestSnapshotRejectsBadID(t *testing.T) {
	resp := env.GET(t, "/api/v1/snapshots/..%2Fetc/metadata")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 400 or 404", resp.StatusCode)
	}
}
