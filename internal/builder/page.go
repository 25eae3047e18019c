package builder

import (
	"sync"

	"github.com/vincentbai/browsetrace/internal/models"
)

// Page is an in-memory Environment for hosts that do not have a live document
// to query. Navigating moves the current URL into the referrer, as a browser
// does for same-site navigation.
type Page struct {
	mu        sync.RWMutex
	url       string
	referrer  string
	userAgent string
}

func NewPage(url, referrer, userAgent string) *Page {
	return &Page{url: url, referrer: referrer, userAgent: userAgent}
}

func (p *Page) Navigate(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url == p.url {
		return
	}
	p.referrer, p.url = p.url, url
}

func (p *Page) PageURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *Page) Referrer() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.referrer
}

func (p *Page) UserAgent() string { return p.userAgent }

// StaticIdentity is a fixed user id.
type StaticIdentity models.UserID

func (s StaticIdentity) UserID() models.UserID { return models.UserID(s) }
