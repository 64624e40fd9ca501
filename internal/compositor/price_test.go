package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceFormatter(t *testing.T) {
	inr, err := NewPriceFormatter("en-IN", "INR")
	require.NoError(t, err)
	assert.Equal(t, "INR 4,500", inr.Format(4500))
	assert.Equal(t, "INR 4,500", inr.Format(4500.4))
	assert.Equal(t, "INR 1,000", inr.Format(999.5))
	assert.Equal(t, "INR 0", inr.Format(0))

	usd, err := NewPriceFormatter("en-US", "USD")
	require.NoError(t, err)
	assert.Equal(t, "USD 125,000", usd.Format(125000))
}

func TestPriceFormatter_Invalid(t *testing.T) {
	_, err := NewPriceFormatter("en-IN", "RUPEES")
	assert.Error(t, err)

	_, err = NewPriceFormatter("!!", "INR")
	assert.Error(t, err)
}
