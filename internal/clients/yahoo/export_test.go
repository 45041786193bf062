package yahoo

import (
	"time"

	"github.com/wnjoon/go-yfinance/pkg/models"
)

// SetHistory replaces the go-yfinance call for tests outside the package
func (c *Client) SetHistory(history func(symbol, period string) ([]models.Bar, error), now time.Time) {
	c.history = history
	c.now = func() time.Time { return now }
}
