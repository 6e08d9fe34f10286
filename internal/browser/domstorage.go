// File: internal/browser/domstorage.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/domstorage"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

// domStorageScrubber sweeps one DOM storage tier of the tab's current
// origin through the devtools storage domain, which reaches entries even
// when the page's own scripts have wrapped or frozen the storage API.
type domStorageScrubber struct {
	session *Session
	local   bool
}

// Scrubbers returns the storage tiers of this session's tab.
func (s *Session) Scrubbers() []guard.Scrubber {
	return []guard.Scrubber{
		&domStorageScrubber{session: s, local: true},
		&domStorageScrubber{session: s, local: false},
	}
}

func (d *domStorageScrubber) Name() string {
	if d.local {
		return "localStorage"
	}
	return "sessionStorage"
}

func (d *domStorageScrubber) storageID(ctx context.Context) (*domstorage.StorageID, error) {
	var origin string
	if err := chromedp.Run(d.session.ctx, chromedp.Evaluate("location.origin", &origin)); err != nil {
		return nil, fmt.Errorf("resolving origin: %w", err)
	}
	return &domstorage.StorageID{
		SecurityOrigin: origin,
		IsLocalStorage: d.local,
	}, nil
}

func (d *domStorageScrubber) Keys(ctx context.Context) ([]string, error) {
	id, err := d.storageID(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = chromedp.Run(d.session.ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := domstorage.Enable().Do(c); err != nil {
			return fmt.Errorf("enabling storage domain: %w", err)
		}
		items, err := domstorage.GetDOMStorageItems(id).Do(c)
		if err != nil {
			return fmt.Errorf("listing %s: %w", d.Name(), err)
		}
		for _, item := range items {
			if len(item) > 0 {
				keys = append(keys, item[0])
			}
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (d *domStorageScrubber) Remove(ctx context.Context, key string) error {
	id, err := d.storageID(ctx)
	if err != nil {
		return err
	}
	return chromedp.Run(d.session.ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := domstorage.RemoveDOMStorageItem(id, key).Do(c); err != nil {
			return fmt.Errorf("removing %s key: %w", d.Name(), err)
		}
		return nil
	}))
}
