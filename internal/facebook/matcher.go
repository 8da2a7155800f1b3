package facebook

import (
	"context"
	"strings"

	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
	"github.com/david/govbid-leads/internal/phone"
)

// PageURL is the public URL of a page id.
func PageURL(pageID string) string {
	return "https://www.facebook.com/" + pageID
}

type pageAPI interface {
	SearchPages(ctx context.Context, q string, limit int) ([]Page, error)
	PageInfo(ctx context.Context, pageID string) (*Page, error)
}

// Matcher trusts the provider's top search hit.
type Matcher struct {
	api pageAPI
	log *logger.Logger
}

func NewMatcher(api pageAPI, log *logger.Logger) *Matcher {
	return &Matcher{api: api, log: log.Component("matcher")}
}

// FindBusiness returns the first page found for term. An empty result and a
// failed call both report no match.
func (m *Matcher) FindBusiness(ctx context.Context, term string) (models.BusinessFields, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return models.BusinessFields{}, false
	}
	pages, err := m.api.SearchPages(ctx, term, 1)
	if err != nil {
		m.log.Warn("Page search failed", "term", term, "error", err)
		return models.BusinessFields{}, false
	}
	if len(pages) == 0 || pages[0].ID == "" {
		return models.BusinessFields{}, false
	}

	top := pages[0]
	biz := models.BusinessFields{Name: top.Name, PageID: top.ID, PageURL: PageURL(top.ID)}

	// Phone is best-effort enrichment.
	if info, err := m.api.PageInfo(ctx, top.ID); err == nil {
		if biz.Name == "" {
			biz.Name = info.Name
		}
		biz.Phone = phone.NormalizeE164(info.Phone)
	} else {
		m.log.Debug("Page info lookup failed", "page_id", top.ID, "error", err)
	}
	return biz, true
}
