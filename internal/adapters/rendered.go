package adapters

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// RenderedAdapter fetches a JS-heavy page through a headless browser and
// normalizes it to markdown. Two modes per:
//   - "listing": the page holds a list of links; each linked page is
//     fetched and turned into a WebItem.
//   - "single" (default): the page itself is treated as the one article,
//     keyed by a hash of its URL so repeat runs upsert rather than
//     duplicate.
//
// Every RenderedAdapter built from the same catalog shares one renderSem,
// bounding concurrent browser launches to g_render regardless of how many
// rendered sources a scrape pass fans out across — a browser instance is
// memory-heavy enough that it needs its own, smaller cap than g_fetch.
type RenderedAdapter struct {
	cfg       SourceConfig
	timeout   time.Duration
	md        *converter.Converter
	renderSem chan struct{}
}

// NewRenderedAdapter builds an adapter for one rendered-page source,
// bounding its browser launches through the shared renderSem.
func NewRenderedAdapter(cfg SourceConfig, timeout time.Duration, renderSem chan struct{}) *RenderedAdapter {
	return &RenderedAdapter{
		cfg:       cfg,
		timeout:   timeout,
		renderSem: renderSem,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

func (a *RenderedAdapter) Name() string { return a.cfg.Name }

func (a *RenderedAdapter) Fetch(ctx context.Context, since, now time.Time) ([]Item, error) {
	select {
	case a.renderSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-a.renderSem }()

	l := newStealthLauncher()
	wsURL, err := l.Launch()
	if err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchNetwork, Retriable: true, Err: fmt.Errorf("launch browser: %w", err)}
	}
	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchNetwork, Retriable: true, Err: fmt.Errorf("connect browser: %w", err)}
	}
	defer browser.Close()
	defer l.Cleanup()

	renderCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	html, err := a.renderPage(renderCtx, browser, a.cfg.Endpoint)
	if err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchNetwork, Retriable: true, Err: err}
	}

	if a.cfg.Mode == "listing" {
		return a.extractListing(renderCtx, browser, html, since, now)
	}
	return a.extractSingle(html, now)
}

func (a *RenderedAdapter) renderPage(ctx context.Context, browser *rod.Browser, url string) (string, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("create stealth page: %w", err)
	}
	defer page.Close()

	if err := page.Context(ctx).Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}

	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html %s: %w", url, err)
	}
	return html, nil
}

func (a *RenderedAdapter) extractListing(ctx context.Context, browser *rod.Browser, listingHTML string, since, now time.Time) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	type link struct{ href, title string }
	var links []link
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !strings.HasPrefix(href, "http") || seen[href] {
			return
		}
		seen[href] = true
		links = append(links, link{href: href, title: strings.TrimSpace(s.Text())})
	})

	items := make([]Item, 0, len(links))
	for _, l := range links {
		html, err := a.renderPage(ctx, browser, l.href)
		if err != nil {
			continue
		}
		art, err := a.articleFromHTML(html, l.href, l.title, now)
		if err != nil {
			continue
		}
		if art.PublishedAt.Before(since) || art.PublishedAt.After(now) {
			continue
		}
		items = append(items, Item{Web: art})
	}
	return items, nil
}

func (a *RenderedAdapter) extractSingle(html string, now time.Time) ([]Item, error) {
	art, err := a.articleFromHTML(html, a.cfg.Endpoint, "", now)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	return []Item{{Web: art}}, nil
}

func (a *RenderedAdapter) articleFromHTML(html, url, fallbackTitle string, now time.Time) (*model.WebItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = fallbackTitle
	}

	bodySelection := doc.Find("article")
	if bodySelection.Length() == 0 {
		bodySelection = doc.Find("body")
	}
	bodyHTML, _ := bodySelection.Html()

	markdown, err := a.md.ConvertString(bodyHTML)
	if err != nil {
		markdown = strings.TrimSpace(bodySelection.Text())
	}

	guid := fmt.Sprintf("%x", sha256.Sum256([]byte(a.cfg.Name+":"+url)))

	return &model.WebItem{
		GUID:        guid,
		SourceName:  a.cfg.Name,
		Title:       title,
		URL:         url,
		Description: truncate(strings.TrimSpace(bodySelection.Text()), 500),
		PublishedAt: now,
		Category:    a.cfg.Category,
		Content:     markdown,
	}, nil
}
