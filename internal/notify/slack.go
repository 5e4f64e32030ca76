package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/johndauphine/airport-sync/internal/config"
	"github.com/johndauphine/airport-sync/internal/model"
)

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	FooterIcon string       `json:"footer_icon,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// ImportStarted sends notification when an import job is picked up
func (n *Notifier) ImportStarted(job *model.ImportJob) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Import Started",
				Fields: []SlackField{
					{Title: "Job ID", Value: job.ID, Short: true},
					{Title: "Type", Value: job.Type, Short: true},
					{Title: "Snapshot", Value: job.Source, Short: false},
					{Title: "Requested By", Value: requester(job), Short: true},
				},
				Footer:    "airport-sync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// ImportCompleted sends notification when an import job finishes
func (n *Notifier) ImportCompleted(job *model.ImportJob, duration time.Duration, processed int64, cancelled bool) error {
	if !n.IsEnabled() {
		return nil
	}

	throughput := 0.0
	if secs := duration.Seconds(); secs > 0 {
		throughput = float64(processed) / secs
	}

	headerText := fmt.Sprintf("Import %s completed. Processed %s records. Throughput: %s records/sec.",
		job.Type, formatNumberWithCommas(processed), formatNumberWithCommas(int64(throughput)))
	color, icon := "#36a64f", ":white_check_mark:"
	if cancelled {
		headerText = fmt.Sprintf("Import %s was cancelled after %s records.", job.Type, formatNumberWithCommas(processed))
		color, icon = "#ffc107", ":warning:"
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: color,
				Fields: []SlackField{
					{Title: "Job ID", Value: job.ID, Short: true},
					{Title: "Started", Value: job.Started.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Records", Value: formatNumberWithCommas(processed), Short: true},
				},
				Footer:    "airport-sync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// ImportFailed sends notification when an import job fails
func (n *Notifier) ImportFailed(job *model.ImportJob, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Import Failed",
				Fields: []SlackField{
					{Title: "Job ID", Value: job.ID, Short: true},
					{Title: "Type", Value: job.Type, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "airport-sync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func requester(job *model.ImportJob) string {
	if job.RequestingUser == "" {
		return "system"
	}
	return job.RequestingUser
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "airport-sync"
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
