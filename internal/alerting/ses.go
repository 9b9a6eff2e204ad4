package alerting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	"github.com/ignite/giftscout-telemetry/internal/pkg/logger"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

// SESAPI is the subset of the SES v2 client the sink calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

const subjectTemplate = `[GiftScout] Performance degraded: {{ poor_count }} poor observations`

const bodyTemplate = `Performance degradation detected at {{ raised_at }}.

{{ poor_count }} observations were rated poor (alert threshold {{ threshold }}):
{% for m in metrics %}
  - {{ m.name }} = {{ m.value }}{% if m.url != "" %} on {{ m.url }}{% endif %} at {{ m.observed_at }}{% endfor %}

Budgets: LCP 4000ms, FID 300ms, CLS 0.25, FCP 3000ms, TTFB 1800ms, INP 500ms.
`

// SESSink emails alerts through Amazon SES.
type SESSink struct {
	client  SESAPI
	from    string
	to      []string
	subject *liquid.Template
	body    *liquid.Template
	log     *logger.Logger
}

// NewSESClient builds an SES client, using static credentials when both keys
// are set and the default chain otherwise.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string) (*sesv2.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

// NewSESSink parses the alert templates and returns a sink mailing to.
func NewSESSink(client SESAPI, from string, to []string) (*SESSink, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("alerting: no alert recipients configured")
	}
	engine := liquid.NewEngine()
	subject, err := engine.ParseString(subjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing subject template: %w", err)
	}
	body, err := engine.ParseString(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing body template: %w", err)
	}
	return &SESSink{
		client:  client,
		from:    from,
		to:      to,
		subject: subject,
		body:    body,
		log:     logger.New("alerts"),
	}, nil
}

func bindings(alert vitals.Alert) map[string]interface{} {
	metrics := make([]map[string]interface{}, 0, len(alert.Metrics))
	for _, m := range alert.Metrics {
		metrics = append(metrics, map[string]interface{}{
			"name":        m.Name,
			"value":       strconv.FormatFloat(m.Value, 'f', -1, 64),
			"rating":      string(m.Rating),
			"url":         m.URL,
			"observed_at": m.ObservedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]interface{}{
		"poor_count": alert.PoorCount,
		"threshold":  alert.Threshold,
		"raised_at":  alert.RaisedAt.UTC().Format(time.RFC3339),
		"metrics":    metrics,
	}
}

// Render returns the subject and text body for alert.
func (s *SESSink) Render(alert vitals.Alert) (string, string, error) {
	b := bindings(alert)
	subject, err := s.subject.RenderString(b)
	if err != nil {
		return "", "", fmt.Errorf("rendering subject: %w", err)
	}
	body, err := s.body.RenderString(b)
	if err != nil {
		return "", "", fmt.Errorf("rendering body: %w", err)
	}
	return strings.TrimSpace(subject), body, nil
}

func (s *SESSink) Notify(ctx context.Context, alert vitals.Alert) error {
	subject, body, err := s.Render(alert)
	if err != nil {
		return err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: s.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("alert_type"), Value: aws.String("performance_degradation")},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("sending alert email: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	for _, to := range s.to {
		s.log.Info("alert email sent", "email", to, "message_id", messageID)
	}
	return nil
}
