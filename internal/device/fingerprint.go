// Package device builds the fixed-shape device descriptor and normalizes
// event timestamps for the conversion events API.
package device

import "strconv"

// Info holds the raw device fields reported by the mobile client.
// Anything the client could not determine is left as the zero value.
type Info struct {
	Platform       string `json:"platform"` // "i2" for iOS, "a2" for Android
	BundleID       string `json:"bundle_id"`
	ShortVersion   string `json:"short_version"` // marketing version, e.g. "2.4.1"
	LongVersion    string `json:"long_version"`  // build number
	OSVersion      string `json:"os_version"`
	DeviceModel    string `json:"device_model"`
	Locale         string `json:"locale"`
	TimezoneAbbrev string `json:"timezone_abbrev"`
	Carrier        string `json:"carrier"`
	ScreenWidth    int    `json:"screen_width"`
	ScreenHeight   int    `json:"screen_height"`
	ScreenDensity  string `json:"screen_density"`
	CPUCores       int    `json:"cpu_cores"`
	StorageTotalGB string `json:"storage_total_gb"`
	StorageFreeGB  string `json:"storage_free_gb"`
	TimezoneIANA   string `json:"timezone_iana"`
}

// fingerprintLen is fixed by the external API; shorter arrays are rejected.
const fingerprintLen = 16

// Fingerprint assembles the 16-element ordered descriptor array the
// external API requires. Unknown fields are sent as empty strings, never
// omitted; the API validates positionally.
func Fingerprint(info Info) []string {
	fp := make([]string, 0, fingerprintLen)
	fp = append(fp,
		info.Platform,
		info.BundleID,
		info.ShortVersion,
		info.LongVersion,
		info.OSVersion,
		info.DeviceModel,
		info.Locale,
		info.TimezoneAbbrev,
		info.Carrier,
		intField(info.ScreenWidth),
		intField(info.ScreenHeight),
		info.ScreenDensity,
		intField(info.CPUCores),
		info.StorageTotalGB,
		info.StorageFreeGB,
		info.TimezoneIANA,
	)
	return fp
}

func intField(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}
