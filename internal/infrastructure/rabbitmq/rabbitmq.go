package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SanitizeURL trims quotes and whitespace and checks the scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}

	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("failed to parse AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %q", u.Scheme)
	}

	return clean, nil
}

// Dial opens a connection to the broker.
func Dial(rawURL string) (*amqp.Connection, error) {
	clean, err := SanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	return conn, nil
}
