// Package device derives the DeviceProfile that drives recognition strategy
// selection and barge-in thresholding.
//
// Detection mechanics live behind Checks. The rest of the system depends
// only on the resulting Profile booleans, which are computed once per
// session and never change.
package device

import (
	"fmt"
	"regexp"
	"strings"
)

// Profile describes the capabilities of the client platform.
type Profile struct {
	// HasNativeRecognition is true when the platform offers continuous
	// streaming speech recognition.
	HasNativeRecognition bool `json:"has_native_recognition"`

	// IsEchoProne is true when the platform is known to re-capture its own
	// speaker output. Barge-in detection is disabled on such platforms and
	// recognition is paused during playback instead.
	IsEchoProne bool `json:"is_echo_prone"`

	// IsMobile selects the polled fallback strategy and mobile capture hints.
	IsMobile bool `json:"is_mobile"`
}

// UsesNativeStrategy reports whether the native recognition strategy should
// be selected for this profile. Mobile platforms always use the fallback.
func (p Profile) UsesNativeStrategy() bool {
	return p.HasNativeRecognition && !p.IsMobile
}

// String implements fmt.Stringer.
func (p Profile) String() string {
	return fmt.Sprintf("native=%t echo_prone=%t mobile=%t", p.HasNativeRecognition, p.IsEchoProne, p.IsMobile)
}

// Checks are injected capability checks. A nil check reports false.
type Checks struct {
	NativeRecognition func() bool
	EchoProne         func() bool
	Mobile            func() bool
}

// Detect runs each check exactly once and returns the resulting Profile.
func Detect(p Checks) Profile {
	return Profile{
		HasNativeRecognition: call(p.NativeRecognition),
		IsEchoProne:          call(p.EchoProne),
		IsMobile:             call(p.Mobile),
	}
}

func call(f func() bool) bool {
	if f == nil {
		return false
	}
	return f()
}

var (
	echoProneUA = regexp.MustCompile(`chrome|chromium|edg/|opera|brave`)
	mobileUA    = regexp.MustCompile(`android|webos|iphone|ipad|ipod|blackberry|iemobile|opera mini`)
	iosUA       = regexp.MustCompile(`iphone|ipad|ipod`)
)

// UserAgent holds the browser facts the embedding UI forwards to the process.
type UserAgent struct {
	// Raw is the navigator user agent string.
	Raw string

	// NativeRecognition is whether the page found a speech recognition API.
	NativeRecognition bool

	// TouchMac is true for iPadOS reporting itself as a Mac with touch points.
	TouchMac bool
}

// Checks returns checks backed by user agent sniffing.
func (u UserAgent) Checks() Checks {
	ua := strings.ToLower(u.Raw)
	return Checks{
		NativeRecognition: func() bool { return u.NativeRecognition },
		EchoProne:         func() bool { return echoProneUA.MatchString(ua) },
		Mobile:            func() bool { return u.TouchMac || mobileUA.MatchString(ua) },
	}
}

// IsIOS reports whether the user agent is an iOS device.
func (u UserAgent) IsIOS() bool {
	return u.TouchMac || iosUA.MatchString(strings.ToLower(u.Raw))
}

// IsSafari reports whether the user agent is Safari (not Chrome or Android
// builds that also mention Safari).
func (u UserAgent) IsSafari() bool {
	ua := strings.ToLower(u.Raw)
	i := strings.Index(ua, "safari")
	if i < 0 {
		return false
	}
	prefix := ua[:i]
	return !strings.Contains(prefix, "chrome") && !strings.Contains(prefix, "android")
}
