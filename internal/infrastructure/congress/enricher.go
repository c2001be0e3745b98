package congress

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"billwatch/internal/config"
	"billwatch/internal/domain"
	"billwatch/internal/ports"
)

// slugs maps bill type codes onto congress.gov URL path segments.
var slugs = map[string]string{
	"hr":      "house-bill",
	"s":       "senate-bill",
	"hres":    "house-resolution",
	"sres":    "senate-resolution",
	"hjres":   "house-joint-resolution",
	"sjres":   "senate-joint-resolution",
	"hconres": "house-concurrent-resolution",
	"sconres": "senate-concurrent-resolution",
}

// Enricher fetches bill metadata from the API and extracts full text plus
// tracker steps from the public bill pages.
type Enricher struct {
	apiBaseURL  string
	siteBaseURL string
	apiKey      string
	client      *http.Client
}

var _ ports.Enricher = (*Enricher)(nil)

// NewEnricher builds the enrichment client from configuration.
func NewEnricher(cfg config.CongressConfig, client *http.Client) *Enricher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Enricher{
		apiBaseURL:  cfg.APIBaseURL,
		siteBaseURL: cfg.SiteBaseURL,
		apiKey:      cfg.APIKey,
		client:      client,
	}
}

type billDetailResponse struct {
	Bill struct {
		Title          string `json:"title"`
		IntroducedDate string `json:"introducedDate"`
		Sponsors       []struct {
			FullName string `json:"fullName"`
			Party    string `json:"party"`
			State    string `json:"state"`
		} `json:"sponsors"`
	} `json:"bill"`
}

// Enrich fetches title, sponsor, full text, and tracker steps for one bill.
func (e *Enricher) Enrich(ctx context.Context, id string) (*ports.BillData, error) {
	billType, number, congress, err := domain.ParseID(id)
	if err != nil {
		return nil, err
	}

	detail, err := e.fetchDetail(ctx, billType, number, congress)
	if err != nil {
		return nil, fmt.Errorf("bill %s: %w", id, err)
	}

	data := &ports.BillData{Title: strings.TrimSpace(detail.Bill.Title)}
	if len(detail.Bill.Sponsors) > 0 {
		sp := detail.Bill.Sponsors[0]
		data.Sponsor = domain.Sponsor{Name: sp.FullName, Party: sp.Party, State: sp.State}
	}
	if detail.Bill.IntroducedDate != "" {
		if parsed, perr := time.Parse("2006-01-02", detail.Bill.IntroducedDate); perr == nil {
			data.IntroducedAt = parsed
		}
	}
	if data.IntroducedAt.IsZero() {
		data.IntroducedAt = time.Now().UTC()
	}

	pageURL, err := e.billPageURL(billType, number, congress)
	if err != nil {
		return nil, fmt.Errorf("bill %s: %w", id, err)
	}

	doc, err := e.fetchDocument(ctx, pageURL+"/text")
	if err != nil {
		return nil, fmt.Errorf("bill %s text: %w", id, err)
	}
	data.FullText = extractFullText(doc)

	tracker, err := e.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("bill %s tracker: %w", id, err)
	}
	data.Steps = extractTrackerSteps(tracker)

	return data, nil
}

func (e *Enricher) fetchDetail(ctx context.Context, billType string, number, congress int) (*billDetailResponse, error) {
	endpoint := fmt.Sprintf("%s/bill/%d/%s/%d?format=json", e.apiBaseURL, congress, strings.ToLower(billType), number)
	if e.apiKey != "" {
		endpoint += "&api_key=" + e.apiKey
	}

	var detail billDetailResponse
	if err := getJSON(ctx, e.client, endpoint, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (e *Enricher) billPageURL(billType string, number, congress int) (string, error) {
	slug, ok := slugs[strings.ToLower(billType)]
	if !ok {
		return "", fmt.Errorf("unknown bill type %q", billType)
	}
	return fmt.Sprintf("%s/bill/%dth-congress/%s/%d", e.siteBaseURL, congress, slug, number), nil
}

func (e *Enricher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "billwatch/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("congress.gov returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

// extractFullText pulls the bill body from the text page. Bills published as
// formatted text live in a pre block; older ones in a generated container.
func extractFullText(doc *goquery.Document) string {
	for _, selector := range []string{"pre#billTextContainer", ".generated-html-container", "pre"} {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// extractTrackerSteps reads the bill-progress widget. A present but
// unparseable tracker yields no steps; the caller decides what that means.
func extractTrackerSteps(doc *goquery.Document) []domain.TrackerStep {
	var steps []domain.TrackerStep

	doc.Find("ol.bill_progress > li").Each(func(_ int, li *goquery.Selection) {
		name := strings.TrimSpace(li.Contents().Not("div").Text())
		if name == "" {
			name = strings.TrimSpace(li.Text())
		}
		steps = append(steps, domain.TrackerStep{
			Name:     name,
			Selected: li.HasClass("selected"),
		})
	})

	return steps
}
