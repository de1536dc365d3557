package config

import (
	"fmt"
	"strings"
)

// CheckoutConfig holds URLs the backend needs to send customers back to the storefront.
type CheckoutConfig struct {
	ReturnURL string `koanf:"returnurl"`
}

// String returns a string representation of the CheckoutConfig.
func (c *CheckoutConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Checkout ---\n")
	b.WriteString(fmt.Sprintf("  returnurl: %s\n", c.ReturnURL))
	return b.String()
}

func (c *CheckoutConfig) Validate() error {
	if c.ReturnURL == "" {
		return fmt.Errorf("checkout.returnurl is not configured")
	}
	return nil
}
