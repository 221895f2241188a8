package store

import (
	"net/url"
	"testing"
	"time"

	"github.com/marvin-j97/xs/pkg/id"
)

func TestParseFollow(t *testing.T) {
	cases := []struct {
		token string
		want  FollowOption
	}{
		{"", FollowOn()},
		{"yes", FollowOn()},
		{"true", FollowOn()},
		{"no", FollowOff()},
		{"false", FollowOff()},
		{"0", FollowWithHeartbeat(0)},
		{"5000", FollowWithHeartbeat(5 * time.Second)},
	}
	for _, tc := range cases {
		got, err := ParseFollow(tc.token)
		if err != nil {
			t.Fatalf("ParseFollow(%q): %v", tc.token, err)
		}
		if got != tc.want {
			t.Fatalf("ParseFollow(%q) = %+v, want %+v", tc.token, got, tc.want)
		}
	}
	if _, err := ParseFollow("soon"); err == nil {
		t.Fatalf("ParseFollow accepted junk")
	}
}

func TestReadOptionsFromQuery(t *testing.T) {
	fid := id.NewGenerator().Next()

	q := url.Values{}
	q.Set("follow", "250")
	q.Set("tail", "yes")
	q.Set("last-id", fid.String())
	q.Set("filter", `topic == "a"`)

	opts, err := ReadOptionsFromQuery(q)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opts.Follow != FollowWithHeartbeat(250*time.Millisecond) {
		t.Fatalf("follow = %+v", opts.Follow)
	}
	if !opts.Tail {
		t.Fatalf("tail not set")
	}
	if opts.LastID != fid {
		t.Fatalf("last-id = %v", opts.LastID)
	}
	if opts.Filter != `topic == "a"` {
		t.Fatalf("filter = %q", opts.Filter)
	}
}

func TestReadOptionsFromQueryDefaults(t *testing.T) {
	opts, err := ReadOptionsFromQuery(url.Values{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opts.Follow.Enabled() || opts.Tail || !opts.LastID.IsZero() || opts.Filter != "" {
		t.Fatalf("zero query produced %+v", opts)
	}
}

func TestReadOptionsFromQueryTailTokens(t *testing.T) {
	for token, want := range map[string]bool{
		"":      true,
		"true":  true,
		"1":     true,
		"yes":   true,
		"false": false,
		"no":    false,
		"0":     false,
	} {
		q := url.Values{}
		q.Set("tail", token)
		opts, err := ReadOptionsFromQuery(q)
		if err != nil {
			t.Fatalf("decode tail=%q: %v", token, err)
		}
		if opts.Tail != want {
			t.Fatalf("tail=%q decoded to %v, want %v", token, opts.Tail, want)
		}
	}
}

func TestReadOptionsFromQueryRejectsBadInputs(t *testing.T) {
	for _, q := range []url.Values{
		{"follow": []string{"later"}},
		{"last-id": []string{"not-an-id"}},
		{"last-id": []string{"abcd"}},
	} {
		if _, err := ReadOptionsFromQuery(q); err == nil {
			t.Fatalf("query %v accepted", q)
		}
	}
}
