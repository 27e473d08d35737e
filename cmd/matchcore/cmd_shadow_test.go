package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFinalScore(t *testing.T) {
	score, err := parseFinalScore("2-1")
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 2, score.Home)
	assert.Equal(t, 1, score.Away)

	score, err = parseFinalScore("")
	require.NoError(t, err)
	assert.Nil(t, score)

	for _, bad := range []string{"2", "a-b", "2-", "-1-2", "2--1"} {
		_, err := parseFinalScore(bad)
		assert.Error(t, err, bad)
	}
}
