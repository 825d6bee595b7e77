package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundTrip(t *testing.T) {
	pair, err := Issue("teacher-1", RoleTeacher, "presensi-engine", "test-key", 15*time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)

	claims, err := Parse(pair.AccessToken, "test-key", "presensi-engine")
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.ActorID)
	assert.Equal(t, RoleTeacher, claims.Role)
}

func TestParseRejectsBadKeyAndIssuer(t *testing.T) {
	pair, err := Issue("student-1", RoleStudent, "presensi-engine", "test-key", 15*time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-key", "presensi-engine")
	assert.Error(t, err)

	_, err = Parse(pair.AccessToken, "test-key", "someone-else")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("student-1", RoleStudent, "presensi-engine", "test-key", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "test-key", "presensi-engine")
	assert.Error(t, err)
}
