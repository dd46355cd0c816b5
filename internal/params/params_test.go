package params

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func queryFrom(t *testing.T, raw string) url.Values {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return values
}

func TestFromQueryRequiresURL(t *testing.T) {
	_, err := FromQuery(queryFrom(t, "w=100"), TriggerEffective)
	require.ErrorIs(t, err, ErrMissingParameter)
}

func TestSourceURLValidation(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want error
	}{
		{"http ok", "http://ex.test/a.jpg", nil},
		{"https ok", "https://ex.test/a.jpg", nil},
		{"javascript scheme", "javascript:alert(1)", ErrUnsupportedScheme},
		{"ftp scheme", "ftp://ex.test/a.jpg", ErrUnsupportedScheme},
		{"relative", "/images/a.jpg", ErrInvalidURL},
		{"no host", "http:///a.jpg", ErrInvalidURL},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ForSource(tc.url, url.Values{}, TriggerEffective)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDimensionClampAndFallback(t *testing.T) {
	req, err := FromQuery(queryFrom(t, "url=https://ex.test/a.jpg&w=9999&h=250"), TriggerEffective)
	require.NoError(t, err)
	require.Equal(t, MaxDimension, req.Width)
	require.Equal(t, 250, req.Height)
	require.True(t, req.TransformRequested)

	// Malformed and non-positive dimensions are absent, never errors.
	for _, raw := range []string{"abc", "-3", "0", "1.5", ""} {
		req, err := FromQuery(url.Values{"url": {"https://ex.test/a.jpg"}, "w": {raw}}, TriggerEffective)
		require.NoError(t, err, "w=%q", raw)
		require.Zero(t, req.Width, "w=%q", raw)
	}
}

func TestFitAlwaysResolves(t *testing.T) {
	req, err := FromQuery(queryFrom(t, "url=https://ex.test/a.jpg&fit=inside"), TriggerEffective)
	require.NoError(t, err)
	require.Equal(t, FitInside, req.Fit)

	req, err = FromQuery(queryFrom(t, "url=https://ex.test/a.jpg&fit=stretchy"), TriggerEffective)
	require.NoError(t, err)
	require.Equal(t, FitCover, req.Fit)

	req, err = FromQuery(queryFrom(t, "url=https://ex.test/a.jpg"), TriggerEffective)
	require.NoError(t, err)
	require.Equal(t, FitCover, req.Fit)
	require.False(t, req.TransformRequested)
}

func TestFormatNormalization(t *testing.T) {
	req, err := FromQuery(queryFrom(t, "url=https://ex.test/a.jpg&format=jpg"), TriggerEffective)
	require.NoError(t, err)
	require.Equal(t, FormatJPEG, req.Format)

	req, err = FromQuery(queryFrom(t, "url=https://ex.test/a.jpg&format=bmp"), TriggerEffective)
	require.NoError(t, err)
	require.Equal(t, Format(""), req.Format)
	require.False(t, req.TransformRequested)
}

func TestQualityBounds(t *testing.T) {
	for raw, want := range map[string]int{"80": 80, "1": 1, "100": 100, "0": 0, "101": 0, "abc": 0, "-1": 0} {
		req, err := FromQuery(url.Values{"url": {"https://ex.test/a.jpg"}, "q": {raw}}, TriggerEffective)
		require.NoError(t, err, "q=%q", raw)
		require.Equal(t, want, req.Quality, "q=%q", raw)
	}
}

func TestTriggerProfiles(t *testing.T) {
	// A dimension that normalizes to absent does not trigger the transform
	// under the effective profile, but its mere presence does under the
	// presence profile.
	query := queryFrom(t, "url=https://ex.test/a.jpg&w=abc")

	effective, err := FromQuery(query, TriggerEffective)
	require.NoError(t, err)
	require.False(t, effective.TransformRequested)

	present, err := FromQuery(query, TriggerPresence)
	require.NoError(t, err)
	require.True(t, present.TransformRequested)

	// Unknown keys never count under either profile.
	noise := queryFrom(t, "url=https://ex.test/a.jpg&cachebust=1")
	for _, profile := range []TriggerProfile{TriggerEffective, TriggerPresence} {
		req, err := FromQuery(noise, profile)
		require.NoError(t, err)
		require.False(t, req.TransformRequested)
	}
}

func TestQualitySupport(t *testing.T) {
	require.True(t, FormatJPEG.SupportsQuality())
	require.True(t, FormatWebP.SupportsQuality())
	require.False(t, FormatGIF.SupportsQuality())
	require.False(t, Format("").SupportsQuality())
}
