package extractor

// Client user agents presented by the impersonation profiles. The
// mobile-app strings must track app versions the source still serves;
// stale ones start drawing bot checks.
const (
	uaIOS     = "com.google.ios.youtube/19.45.4 (iPhone16,2; U; CPU iOS 18_1_0 like Mac OS X;)"
	uaAndroid = "com.google.android.youtube/19.44.38 (Linux; U; Android 14; en_US) gzip"
	uaDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Strategy is one client-impersonation profile: a named set of flags
// the extraction tool presents to the remote host. Profiles are tried
// in order until one yields a result or a terminal condition stops the
// attempt.
type Strategy struct {
	Name string
	Args []string
}

// DefaultStrategies returns the stock profile ladder. Mobile app
// clients go first because the source throttles them least; the bare
// default closes the ladder so the tool's own behavior is the final
// fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "ios",
			Args: []string{
				"--extractor-args", "youtube:player_client=ios",
				"--user-agent", uaIOS,
			},
		},
		{
			Name: "android",
			Args: []string{
				"--extractor-args", "youtube:player_client=android",
				"--user-agent", uaAndroid,
			},
		},
		{
			Name: "web",
			Args: []string{
				"--extractor-args", "youtube:player_client=web",
				"--user-agent", uaDesktop,
				"--add-header", "Accept-Language:en-US,en;q=0.9",
			},
		},
		{
			Name: "default",
		},
	}
}
