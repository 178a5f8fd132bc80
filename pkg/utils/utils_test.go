package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSplitLines is a function.
func TestSplitLines(t *testing.T) {
	type scenario struct {
		multilineString string
		expected        []string
	}

	scenarios := []scenario{
		{
			"",
			[]string{},
		},
		{
			"\n",
			[]string{},
		},
		{
			"hello world !\nhello universe !\n",
			[]string{
				"hello world !",
				"hello universe !",
			},
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, SplitLines(s.multilineString))
	}
}

// TestNormalizeLinefeeds is a function.
func TestNormalizeLinefeeds(t *testing.T) {
	type scenario struct {
		byteArray []byte
		expected  []byte
	}
	scenarios := []scenario{
		{
			// \r\n
			[]byte{97, 115, 100, 102, 13, 10},
			[]byte{97, 115, 100, 102, 10},
		},
		{
			// bash\r\nblah
			[]byte{97, 115, 100, 102, 13, 10, 97, 115, 100, 102},
			[]byte{97, 115, 100, 102, 10, 97, 115, 100, 102},
		},
		{
			// \r
			[]byte{97, 115, 100, 102, 13},
			[]byte{97, 115, 100, 102},
		},
		{
			// \n
			[]byte{97, 115, 100, 102, 10},
			[]byte{97, 115, 100, 102, 10},
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, string(s.expected), NormalizeLinefeeds(string(s.byteArray)))
	}
}

// TestResolvePlaceholderString is a function.
func TestResolvePlaceholderString(t *testing.T) {
	type scenario struct {
		templateString string
		arguments      map[string]string
		expected       string
	}

	scenarios := []scenario{
		{
			"",
			map[string]string{},
			"",
		},
		{
			"Host(`{{vmID}}.{{domain}}`)",
			map[string]string{
				"vmID":   "vm-1234",
				"domain": "range.local",
			},
			"Host(`vm-1234.range.local`)",
		},
		{
			"{{a}} {{b}}",
			map[string]string{
				"a": "X",
			},
			"X {{b}}",
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, ResolvePlaceholderString(s.templateString, s.arguments))
	}
}

// TestFormatBinaryBytes is a function.
func TestFormatBinaryBytes(t *testing.T) {
	type scenario struct {
		bytes    int
		expected string
	}

	scenarios := []scenario{
		{0, "0B"},
		{1023, "1023.00B"},
		{1025, "1.00kiB"},
		{2 * 1024 * 1024, "2.00MiB"},
		{5 * 1024 * 1024 * 1024, "5.00GiB"},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, FormatBinaryBytes(s.bytes))
	}
}

// TestFormatDecimalBytes is a function.
func TestFormatDecimalBytes(t *testing.T) {
	type scenario struct {
		bytes    int
		expected string
	}

	scenarios := []scenario{
		{0, "0B"},
		{999, "999.00B"},
		{1001, "1.00kB"},
		{2 * 1000 * 1000, "2.00MB"},
		{5 * 1000 * 1000 * 1000, "5.00GB"},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, FormatDecimalBytes(s.bytes))
	}
}
