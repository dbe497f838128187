// Package panel reads call cards from the live reception panel page
// with a headless Chrome session.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callwatch/internal/calls/application"
	calls "callwatch/internal/calls/domain"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Selectors locate a call card and its fields on the page.
type Selectors struct {
	Card     string
	Patient  string
	Provider string
	Room     string
}

// DefaultSelectors matches the reception panel markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:     ".card",
		Patient:  ".personMain",
		Provider: ".providerMain",
		Room:     ".hallMain",
	}
}

// Config configures the browser session.
type Config struct {
	URL             string
	Selectors       Selectors
	Headless        bool
	ExecPath        string
	NavigateTimeout time.Duration
}

// SessionFactory opens headless browser sessions on the panel page.
type SessionFactory struct {
	cfg    Config
	logger zerolog.Logger
}

// NewSessionFactory constructs a factory.
func NewSessionFactory(cfg Config, logger zerolog.Logger) (*SessionFactory, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("panel: empty url")
	}
	if cfg.Selectors.Card == "" {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	return &SessionFactory{cfg: cfg, logger: logger}, nil
}

// Open starts a browser and navigates to the panel.
func (f *SessionFactory) Open(ctx context.Context) (application.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}

	// The browser outlives the caller's request context; Close tears it down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx:       browserCtx,
		selectors: f.cfg.Selectors,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}

	if err := chromedp.Run(browserCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("panel: start browser: %w", err)
	}
	navCtx, cancelNav := context.WithTimeout(browserCtx, f.cfg.NavigateTimeout)
	defer cancelNav()
	stop := context.AfterFunc(ctx, cancelNav)
	defer stop()
	if err := chromedp.Run(navCtx, chromedp.Navigate(f.cfg.URL)); err != nil {
		s.cancel()
		return nil, fmt.Errorf("panel: navigate %s: %w", f.cfg.URL, err)
	}
	f.logger.Info().Str("url", f.cfg.URL).Msg("panel page loaded")
	return s, nil
}

// Session is one browser tab showing the panel.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	selectors Selectors
}

// WaitForItems waits until a card is present. A timeout is not an error.
func (s *Session) WaitForItems(ctx context.Context, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(waitCtx, chromedp.WaitReady(s.selectors.Card, chromedp.ByQuery))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case s.ctx.Err() != nil:
		return false, fmt.Errorf("panel: browser gone: %w", s.ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

// ReadItems returns the text of every card on the page.
func (s *Session) ReadItems(ctx context.Context) ([]calls.RawItem, error) {
	readCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var cards []card
	if err := chromedp.Run(readCtx, chromedp.Evaluate(cardScript(s.selectors), &cards)); err != nil {
		return nil, fmt.Errorf("panel: read cards: %w", err)
	}
	return toItems(cards), nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	if s == nil || s.cancel == nil {
		return nil
	}
	s.cancel()
	return nil
}

type card struct {
	Patient  string `json:"patient"`
	Provider string `json:"provider"`
	Room     string `json:"room"`
}

func cardScript(sel Selectors) string {
	q := func(s string) string {
		raw, _ := json.Marshal(s)
		return string(raw)
	}
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(c => {
  const text = s => { const el = c.querySelector(s); return el ? el.innerText.trim() : ""; };
  return { patient: text(%s), provider: text(%s), room: text(%s) };
})`, q(sel.Card), q(sel.Patient), q(sel.Provider), q(sel.Room))
}

func toItems(cards []card) []calls.RawItem {
	items := make([]calls.RawItem, 0, len(cards))
	for _, c := range cards {
		if strings.TrimSpace(c.Patient) == "" {
			continue
		}
		items = append(items, calls.RawItem{
			Patient:   c.Patient,
			Provider:  c.Provider,
			RoomLabel: c.Room,
		})
	}
	return items
}
