// Package deeplink turns abstract robot button destinations into concrete
// in-app navigation paths.
package deeplink

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

//go:embed pages.yaml
var defaultPages []byte

// Source names the lookup a page template draws its values from.
type Source string

const (
	SourceNone      Source = ""
	SourceUser      Source = "user"
	SourceToolkit   Source = "toolkit"
	SourceService   Source = "service"
	SourceChallenge Source = "challenge"
	SourceOffer     Source = "offer"
	SourceSchedule  Source = "schedule"
)

// Placeholders recognised in templates.
const (
	PlaceholderToolkitID       = "TOOLKIT_ID"
	PlaceholderToolkitCategory = "TOOLKIT_CATEGORY"
	PlaceholderToolkitType     = "TOOLKIT_TYPE"
	PlaceholderUserID          = "USER_ID"
	PlaceholderCompanyName     = "COMPANY_NAME"
	PlaceholderServiceID       = "SERVICE_ID"
	PlaceholderServiceCompany  = "SERVICE_COMPANY_INFO"
	PlaceholderChallengeID     = "CHALLENGE_ID"
	PlaceholderOfferID         = "OFFER_ID"

	PlaceholderScheduleToolkitID  = "replaceToolKitId"
	PlaceholderScheduleCategoryID = "replaceCategoryId"
	PlaceholderScheduleID         = "replaceScheduleId"
	PlaceholderScheduleGoalID     = "replaceGoalId"
	PlaceholderScheduleTitle      = "replaceTitle"
	PlaceholderSessionDate        = "replaceSessionDate"
)

var allPlaceholders = []string{
	PlaceholderToolkitID, PlaceholderToolkitCategory, PlaceholderToolkitType, PlaceholderUserID,
	PlaceholderCompanyName, PlaceholderServiceID, PlaceholderServiceCompany, PlaceholderChallengeID,
	PlaceholderOfferID, PlaceholderScheduleToolkitID, PlaceholderScheduleCategoryID, PlaceholderScheduleID,
	PlaceholderScheduleGoalID, PlaceholderScheduleTitle, PlaceholderSessionDate,
}

// Page is one entry of the template registry.
type Page struct {
	Page     models.ButtonPage `yaml:"page"`
	Template string            `yaml:"template"`
	Source   Source            `yaml:"source"`
}

type registry struct {
	Pages []Page `yaml:"pages"`
}

// ParsePages decodes a YAML template registry.
func ParsePages(data []byte) (map[models.ButtonPage]Page, error) {
	var reg registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse page registry: %w", err)
	}
	pages := make(map[models.ButtonPage]Page, len(reg.Pages))
	for _, p := range reg.Pages {
		if p.Page == "" || p.Template == "" {
			return nil, fmt.Errorf("page registry entry %q is incomplete", p.Page)
		}
		if _, dup := pages[p.Page]; dup {
			return nil, fmt.Errorf("page %q registered twice", p.Page)
		}
		pages[p.Page] = p
	}
	return pages, nil
}

// Lookup supplies the entities page templates are filled from. Lookups
// return nil without an error when the entity does not exist.
type Lookup interface {
	Toolkit(ctx context.Context, id string) (*models.Toolkit, error)
	GetServiceCompany(ctx context.Context, serviceID string) (*models.ServiceCompany, error)
	LatestSessionDate(ctx context.Context, userID, scheduleID string) (string, error)
}

// ScheduleLink is the context of a link into a scheduled toolkit.
type ScheduleLink struct {
	ScheduleID string
	Toolkit    models.Toolkit
	GoalID     string
	Title      string
	UserID     string
	// Date is the request date used when no session was logged yet.
	Date string
}

// Opts holds configuration options for the Resolver.
type Opts struct {
	Pages []byte
}

// Option defines a configuration option for the Resolver.
type Option func(*Opts)

// WithPages replaces the embedded template registry.
func WithPages(yamlData []byte) Option {
	return func(o *Opts) {
		o.Pages = yamlData
	}
}

// Resolver materialises deep links from the template registry.
type Resolver struct {
	pages  map[models.ButtonPage]Page
	lookup Lookup
}

// NewResolver loads the template registry and returns a Resolver using lookup.
func NewResolver(lookup Lookup, opts ...Option) (*Resolver, error) {
	cfg := Opts{Pages: defaultPages}
	for _, opt := range opts {
		opt(&cfg)
	}
	pages, err := ParsePages(cfg.Pages)
	if err != nil {
		return nil, err
	}
	slog.Debug("deeplink.NewResolver: registry loaded", "pages", len(pages))
	return &Resolver{pages: pages, lookup: lookup}, nil
}

// Resolve returns the deep link of a navigate button for userID.
func (r *Resolver) Resolve(ctx context.Context, button models.RobotButton, userID string) (string, error) {
	page, ok := r.pages[button.Page]
	if !ok {
		return "", models.NotFoundf("no deep link template for page %q", button.Page)
	}

	var pairs []string
	switch page.Source {
	case SourceNone:
		return page.Template, nil
	case SourceUser:
		pairs = []string{PlaceholderUserID, userID}
	case SourceToolkit:
		if button.ToolKitID == "" {
			return "", models.NotFoundf("page %s requires a toolkit id", button.Page)
		}
		tk, err := r.lookup.Toolkit(ctx, button.ToolKitID)
		if err != nil {
			return "", err
		}
		if tk == nil {
			return "", models.NotFoundf("toolkit %s not found", button.ToolKitID)
		}
		pairs = []string{
			PlaceholderToolkitID, tk.ID,
			PlaceholderToolkitCategory, tk.ToolKitCategory,
			PlaceholderToolkitType, tk.ToolKitType,
		}
	case SourceService:
		if button.ServiceID == "" {
			return "", models.NotFoundf("page %s requires a service id", button.Page)
		}
		sc, err := r.lookup.GetServiceCompany(ctx, button.ServiceID)
		if err != nil {
			return "", err
		}
		if sc == nil {
			return "", models.NotFoundf("service %s not found", button.ServiceID)
		}
		pairs = []string{
			PlaceholderServiceID, sc.ServiceID,
			PlaceholderCompanyName, url.QueryEscape(sc.CompanyName),
			PlaceholderServiceCompany, sc.CompanyID,
		}
	case SourceChallenge:
		if button.ChallengeID == "" {
			return "", models.NotFoundf("page %s requires a challenge id", button.Page)
		}
		pairs = []string{PlaceholderChallengeID, button.ChallengeID}
	case SourceOffer:
		if button.OfferID == "" {
			return "", models.NotFoundf("page %s requires an offer id", button.Page)
		}
		pairs = []string{PlaceholderOfferID, button.OfferID}
	case SourceSchedule:
		return "", models.NotFoundf("page %s needs a schedule to link to", button.Page)
	default:
		return "", fmt.Errorf("page %s has unknown source %q", button.Page, page.Source)
	}
	return fill(page, pairs)
}

// ResolveSchedule returns the deep link into a scheduled toolkit. The session
// date is the latest one logged for the schedule, or link.Date.
func (r *Resolver) ResolveSchedule(ctx context.Context, link ScheduleLink) (string, error) {
	page, ok := r.pages[models.ButtonPageSchedule]
	if !ok {
		return "", models.NotFoundf("no deep link template for page %q", models.ButtonPageSchedule)
	}

	sessionDate, err := r.lookup.LatestSessionDate(ctx, link.UserID, link.ScheduleID)
	if err != nil {
		return "", err
	}
	if sessionDate == "" {
		sessionDate = link.Date
	}

	return fill(page, []string{
		PlaceholderScheduleToolkitID, link.Toolkit.ID,
		PlaceholderScheduleCategoryID, link.Toolkit.ToolKitCategory,
		PlaceholderScheduleID, link.ScheduleID,
		PlaceholderScheduleGoalID, link.GoalID,
		PlaceholderScheduleTitle, url.QueryEscape(link.Title),
		PlaceholderSessionDate, sessionDate,
	})
}

// fill substitutes pairs into the page template and rejects output that
// still carries a placeholder.
func fill(page Page, pairs []string) (string, error) {
	out := strings.NewReplacer(pairs...).Replace(page.Template)
	for _, p := range allPlaceholders {
		if strings.Contains(out, p) {
			return "", models.NotFoundf("page %s left placeholder %s unresolved", page.Page, p)
		}
	}
	return out, nil
}
