package cdp

import (
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/oi_overlay/internal/storage"
)

// TabInfo describes an option chain tab and the store scope derived from its URL.
type TabInfo struct {
	TargetID  string `json:"target_id"`
	URL       string `json:"url"`
	Scope     string `json:"scope"`
	BrowserID string `json:"browser_id"`
}

// TabRegistry maps CDP target IDs to tab metadata.
type TabRegistry struct {
	tabs map[target.ID]*TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*TabInfo)}
}

func (r *TabRegistry) Register(targetID target.ID, url string) (*TabInfo, error) {
	scope, err := storage.ScopeFromURL(url)
	if err != nil {
		return nil, err
	}

	info := &TabInfo{
		TargetID:  string(targetID),
		URL:       url,
		Scope:     scope,
		BrowserID: storage.ShortID(string(targetID)),
	}

	r.mu.Lock()
	r.tabs[targetID] = info
	r.mu.Unlock()

	return info, nil
}

func (r *TabRegistry) Get(targetID target.ID) (*TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	return info, ok
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
