package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTarget(t *testing.T) {
	cases := map[string]string{
		"shopify.com":                      "shopify.com",
		"  Shopify.COM  ":                  "shopify.com",
		"https://shopify.com":              "shopify.com",
		"https://www.shopify.com/about":    "shopify.com",
		"http://example.org?utm=x":         "example.org",
		"www.example.org":                  "example.org",
		"https://sub.example.org/a/b#frag": "sub.example.org",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTarget(in), "input %q", in)
	}
}

func TestValidateTarget(t *testing.T) {
	valid := []string{
		"shopify.com",
		"sub.domain.example.org",
		"a-b.example.io",
		"xn--bcher-kva.example",
	}
	for _, target := range valid {
		assert.NoError(t, ValidateTarget(target), "target %q", target)
	}

	invalid := []string{
		"",
		"   ",
		"localhost",
		"no spaces allowed.com",
		"-leading.example.com",
		"trailing-.example.com",
		"https://scheme-not-stripped.com",
		"example.com:8080",
	}
	for _, target := range invalid {
		assert.ErrorIs(t, ValidateTarget(target), ErrInvalidTarget, "target %q", target)
	}
}
