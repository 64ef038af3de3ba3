package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldVersion, oldSHA, oldTime })

	Version, GitSHA, BuildTime = "0.3.1", "abc1234", "2025-03-14T09:26:53Z"
	if got, want := String(), "0.3.1 (abc1234, built 2025-03-14T09:26:53Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
