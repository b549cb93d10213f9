package notify

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/catalogsync"
	"github.com/ahmethakanbesel/pricewatch/internal/job"
	"github.com/ahmethakanbesel/pricewatch/internal/refresh"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
)

const (
	colorFailed  = "#ff0000"
	colorEmpty   = "#ffcc00"
	colorSuccess = "#36a64f"

	topCategories = 10
)

type SlackMessage struct {
	Attachments []SlackAttachment `json:"attachments"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Slack posts a summary attachment to an incoming webhook when a job
// finishes. Started events are ignored.
type Slack struct {
	url      string
	client   *http.Client
	registry *scraper.Registry
	now      func() time.Time
}

func NewSlack(url string, client *http.Client, registry *scraper.Registry) *Slack {
	if client == nil {
		client = &http.Client{}
	}
	return &Slack{
		url:      url,
		client:   client,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, event string, j job.Job) error {
	if event != job.EventCompleted {
		return nil
	}
	body, err := json.Marshal(s.BuildMessage(j))
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}
	return postJSON(ctx, s.client, s.url, body)
}

func (s *Slack) BuildMessage(j job.Job) SlackMessage {
	failed := j.Status == job.StatusFailed

	blocks := []SlackBlock{
		header(s.title(j, failed)),
		{Type: "context", Elements: []SlackText{mrkdwn(s.now().Format("2006-01-02 15:04:05 MST"))}},
		{Type: "divider"},
	}

	color := colorSuccess
	switch res := j.Result.(type) {
	case *catalogsync.Result:
		blocks = append(blocks, syncBlocks(j, res)...)
		if res.SavedCount == 0 {
			color = colorEmpty
		}
	case *refresh.Stats:
		blocks = append(blocks, refreshBlocks(j, res))
		if res.Updated == 0 {
			color = colorEmpty
		}
	default:
		blocks = append(blocks, SlackBlock{Type: "section", Fields: []SlackText{
			mrkdwn("*Execution time:*\n" + FormatDuration(j.Duration())),
		}})
	}

	if failed {
		color = colorFailed
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: ptr(mrkdwn("*Error:*\n```" + j.Error + "```")),
		})
	}

	return SlackMessage{Attachments: []SlackAttachment{{Color: color, Blocks: blocks}}}
}

func (s *Slack) title(j job.Job, failed bool) string {
	label := j.SourceName
	if label == "" {
		label = j.SourceKey
	}
	if s.registry != nil {
		if m, err := s.registry.Get(j.SourceKey); err == nil && m.Role == catalog.RoleMaster {
			label += " (MASTER)"
		}
	}
	verb := "Complete"
	if failed {
		verb = "Failed"
	}
	return fmt.Sprintf("🛒 %s - %s %s", label, titleCase(string(j.Kind)), verb)
}

func syncBlocks(j job.Job, res *catalogsync.Result) []SlackBlock {
	blocks := []SlackBlock{
		{Type: "section", Fields: []SlackText{
			mrkdwn(fmt.Sprintf("*Total products:*\n%d", res.TotalUniqueProducts)),
			mrkdwn(fmt.Sprintf("*Saved:*\n%d", res.SavedCount)),
			mrkdwn(fmt.Sprintf("*Skipped:*\n%d", res.SkippedCount)),
			mrkdwn("*Execution time:*\n" + FormatDuration(j.Duration())),
			mrkdwn("*Mode:*\n" + strings.ToUpper(string(res.Mode))),
			mrkdwn("*Success rate:*\n" + SuccessRate(res.SavedCount, res.TotalUniqueProducts) + "%"),
		}},
	}

	if stats := CategoryStats(res.Products, topCategories); len(stats) > 0 {
		lines := make([]string, len(stats))
		for i, c := range stats {
			lines[i] = fmt.Sprintf("%d. %s - %d products", i+1, c.Name, c.Count)
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: ptr(mrkdwn("*Top categories:*\n" + strings.Join(lines, "\n"))),
		})
	}
	return blocks
}

func refreshBlocks(j job.Job, res *refresh.Stats) SlackBlock {
	return SlackBlock{Type: "section", Fields: []SlackText{
		mrkdwn(fmt.Sprintf("*Selected:*\n%d", res.Selected)),
		mrkdwn(fmt.Sprintf("*Updated:*\n%d", res.Updated)),
		mrkdwn(fmt.Sprintf("*Price changes:*\n%d", res.PriceChanged)),
		mrkdwn(fmt.Sprintf("*Unavailable:*\n%d", res.Unavailable)),
		mrkdwn(fmt.Sprintf("*Errors:*\n%d", res.Errored)),
		mrkdwn("*Execution time:*\n" + FormatDuration(j.Duration())),
	}}
}

type CategoryCount struct {
	Name  string
	Count int
}

// CategoryStats counts listings by their first category and returns the
// n largest, ties broken by name.
func CategoryStats(listings []catalog.Listing, n int) []CategoryCount {
	counts := make(map[string]int)
	for _, l := range listings {
		if len(l.Categories) == 0 || l.Categories[0] == "" {
			continue
		}
		counts[l.Categories[0]]++
	}

	out := make([]CategoryCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, CategoryCount{Name: name, Count: c})
	}
	slices.SortFunc(out, func(a, b CategoryCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// SuccessRate formats saved/total as a percentage with one decimal.
func SuccessRate(saved, total int) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(saved)/float64(total)*100)
}

// FormatDuration renders "Xm Ys", or "Ys" under a minute.
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs >= 60 {
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}

func header(text string) SlackBlock {
	return SlackBlock{Type: "header", Text: &SlackText{Type: "plain_text", Text: text, Emoji: true}}
}

func mrkdwn(text string) SlackText {
	return SlackText{Type: "mrkdwn", Text: text}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func ptr[T any](v T) *T { return &v }
