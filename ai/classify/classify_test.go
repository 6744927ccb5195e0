package classify

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySimpleLookups(t *testing.T) {
	c := New(2000)
	for _, q := range []string{
		"How many patients are in the database?",
		"List female patients over 70",
		"count sessions for this week",
		"Show all patients named Margaret",
	} {
		res, err := c.Classify(q, Hints{})
		require.NoError(t, err)
		assert.Equal(t, TierSimple, res.Tier, "query %q", q)
		assert.NotEmpty(t, res.Reasoning)
	}
}

func TestClassifyAnalyticalQueries(t *testing.T) {
	c := New(2000)
	for _, q := range []string{
		"Show me all at-risk patients",
		"Why is John's score dropping?",
		"Compare patient P001 and P002",
		"Predict which patients will decline next month",
		"Analyze the latest session",
	} {
		res, err := c.Classify(q, Hints{})
		require.NoError(t, err)
		assert.Equal(t, TierComplex, res.Tier, "query %q", q)
	}
}

func TestClassifyAmbiguousDefaultsToComplex(t *testing.T) {
	c := New(2000)
	res, err := c.Classify("hello there", Hints{})
	require.NoError(t, err)
	assert.Equal(t, TierComplex, res.Tier)
}

func TestClassifyHintsForceComplex(t *testing.T) {
	c := New(2000)

	// "how many" alone would be simple, but session context forces complex.
	res, err := c.Classify("how many exercises were done", Hints{SessionScoped: true})
	require.NoError(t, err)
	assert.Equal(t, TierComplex, res.Tier)

	res, err = c.Classify("list both of them", Hints{MultiPatient: true})
	require.NoError(t, err)
	assert.Equal(t, TierComplex, res.Tier)
}

func TestClassifyRejectsOversizedInput(t *testing.T) {
	c := New(100)
	_, err := c.Classify(strings.Repeat("a", 101), Hints{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInputTooLarge))
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(2000)
	first, err := c.Classify("compare these two patients", Hints{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Classify("compare these two patients", Hints{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
