package auth

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/leaguechat/internal/errs"
)

func TestIssueVerify(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	uid := uuid.Must(uuid.NewV4())
	tok, exp, err := NewIssuer(key, time.Hour).Issue(uid, "Alice")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, err := NewVerifier(key).Verify(tok)
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: uid.String(), Name: "Alice"}, id)

	_, err = NewVerifier([]byte("other")).Verify(tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	iss := NewIssuer([]byte("k"), time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _, err := iss.Issue(uuid.Must(uuid.NewV4()), "")
	require.NoError(t, err)

	_, err = NewVerifier([]byte("k")).Verify(tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerify_RejectsOtherAlgAndSubject(t *testing.T) {
	t.Parallel()

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.Must(uuid.NewV4()).String()},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewVerifier([]byte("k")).Verify(none)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"},
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = NewVerifier([]byte("k")).Verify(bad)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	uid := uuid.Must(uuid.NewV4())
	tok, exp, err := NewIssuer([]byte("server-only"), time.Hour).Issue(uid, "Bob")
	require.NoError(t, err)

	id, gotExp, err := Inspect(tok)
	require.NoError(t, err)
	require.Equal(t, uid.String(), id.UserID)
	require.Equal(t, "Bob", id.Name)
	require.Equal(t, exp.Unix(), gotExp.Unix())

	_, _, err = Inspect("garbage")
	require.Error(t, err)
}

func TestFromHeader(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want string
		ok   bool
	}{
		"ok":        {"Bearer abc", "abc", true},
		"lowercase": {"bearer  abc ", "abc", true},
		"no token":  {"Bearer   ", "", false},
		"basic":     {"Basic abc", "", false},
		"empty":     {"", "", false},
	}
	for name, tc := range cases {
		got, ok := FromHeader(tc.in)
		require.Equal(t, tc.ok, ok, name)
		require.Equal(t, tc.want, got, name)
	}
}
