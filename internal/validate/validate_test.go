package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"billwatch/internal/domain"
)

func validBill() *domain.Bill {
	return &domain.Bill{
		ID:         "hr1-119",
		Title:      "An act to do something",
		FullText:   strings.Repeat("x", 500),
		Status:     "Introduced",
		StatusCode: domain.StatusCodeIntroduced,
	}
}

func TestBillValid(t *testing.T) {
	res := Bill(validBill(), Thresholds{})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reasons)
}

func TestBillEmptyTitle(t *testing.T) {
	bill := validBill()
	bill.Title = "   "

	res := Bill(bill, Thresholds{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason(), "title is empty")
}

func TestBillFullTextAtThreshold(t *testing.T) {
	bill := validBill()
	bill.FullText = strings.Repeat("x", MinFullTextChars)

	// Exactly the threshold is still too short; the check is strict.
	res := Bill(bill, Thresholds{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason(), "full text too short")

	bill.FullText = strings.Repeat("x", MinFullTextChars+1)
	assert.True(t, Bill(bill, Thresholds{}).Valid)
}

func TestBillProblematicStatus(t *testing.T) {
	bill := validBill()
	bill.StatusCode = domain.StatusCodeProblematic

	res := Bill(bill, Thresholds{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason(), "status could not be derived")
}

func TestBillShortTextCheckedOnlyWithSummary(t *testing.T) {
	bill := validBill()
	assert.True(t, Bill(bill, Thresholds{}).Valid, "no summary yet, short text not checked")

	bill.Summary = &domain.Summary{ShortText: "tiny"}
	res := Bill(bill, Thresholds{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason(), "short post text too short")
}

func TestBillPlaceholderSummary(t *testing.T) {
	bill := validBill()
	bill.Summary = &domain.Summary{ShortText: "No Summary Available for this measure at this time."}

	res := Bill(bill, Thresholds{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason(), `placeholder "no summary available"`)
}

func TestBillCollectsAllReasons(t *testing.T) {
	bill := &domain.Bill{ID: "hr1-119", StatusCode: domain.StatusCodeProblematic}

	res := Bill(bill, Thresholds{})
	assert.False(t, res.Valid)
	assert.Len(t, res.Reasons, 3)
	assert.Contains(t, res.Reason(), "; ")
}

func TestThresholdOverrides(t *testing.T) {
	bill := validBill()
	bill.FullText = strings.Repeat("x", 50)

	assert.False(t, Bill(bill, Thresholds{}).Valid)
	assert.True(t, Bill(bill, Thresholds{MinFullTextChars: 10}).Valid)
}

func TestFindPlaceholder(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Congress renames a post office.", ""},
		{"Summary COMING SOON for this bill.", "coming soon"},
		{"[PLACEHOLDER] text goes here", "[placeholder]"},
		{"The model was unable to summarize this bill.", "unable to summarize"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FindPlaceholder(tt.text), tt.text)
	}
}
