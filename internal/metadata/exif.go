package metadata

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ExifDateTimeLayout is the layout of EXIF DateTime* values.
const ExifDateTimeLayout = "2006:01:02 15:04:05"

var meteringModes = map[int]string{
	0:   "Unknown",
	1:   "Average",
	2:   "CenterWeightedAverage",
	3:   "Spot",
	4:   "MultiSpot",
	5:   "Pattern",
	6:   "Partial",
	255: "Other",
}

var whiteBalanceModes = map[int]string{
	0: "Auto",
	1: "Manual",
}

// ReadExif reads the EXIF attributes of a local image file.
// It never fails: a missing or unreadable EXIF block is reported in the
// Error field and whatever could be read is kept.
func ReadExif(path string) (info models.ExifInfo) {
	defer func() {
		if r := recover(); r != nil {
			info.Error = fmt.Sprintf("read exif: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		info.Error = fmt.Sprintf("open image: %v", err)
		return info
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		info.Error = fmt.Sprintf("decode exif: %v", err)
		if x == nil {
			return info
		}
	}

	info.Make = stringTag(x, exif.Make)
	info.Model = stringTag(x, exif.Model)
	info.Software = stringTag(x, exif.Software)
	info.DateTimeOriginal = stringTag(x, exif.DateTimeOriginal)

	if num, den, ok := ratTag(x, exif.ExposureTime, 0); ok {
		info.ExposureTime = formatExposure(num, den)
	}
	if v, ok := floatTag(x, exif.FNumber); ok {
		info.FNumber = &v
	}
	if v, ok := floatTag(x, exif.FocalLength); ok {
		info.FocalLength = &v
	}
	if v, ok := intTag(x, exif.ISOSpeedRatings); ok {
		info.ISO = &v
	}
	if v, ok := intTag(x, exif.Flash); ok {
		info.Flash = describeFlash(v)
	}
	if v, ok := intTag(x, exif.MeteringMode); ok {
		info.MeteringMode = lookupMode(meteringModes, v)
	}
	if v, ok := intTag(x, exif.WhiteBalance); ok {
		info.WhiteBalance = lookupMode(whiteBalanceModes, v)
	}

	if lat, lon, ok := gpsPosition(x); ok {
		info.Latitude = &lat
		info.Longitude = &lon
	}

	return info
}

// CaptureTime parses an EXIF original date-time in loc and returns it in UTC.
// It returns nil if raw is empty or unparsable. A nil loc means time.Local.
func CaptureTime(raw string, loc *time.Location) *time.Time {
	raw = strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if raw == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(ExifDateTimeLayout, raw, loc)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// DMSToDecimal converts degrees/minutes/seconds to signed decimal degrees.
// References "S" and "W" yield negative values.
func DMSToDecimal(degrees, minutes, seconds float64, ref string) float64 {
	decimal := degrees + minutes/60 + seconds/3600
	switch strings.ToUpper(strings.TrimSpace(ref)) {
	case "S", "W":
		return -decimal
	}
	return decimal
}

func gpsPosition(x *exif.Exif) (lat, lon float64, ok bool) {
	lat, ok = coordinate(x, exif.GPSLatitude, exif.GPSLatitudeRef)
	if !ok {
		return 0, 0, false
	}
	lon, ok = coordinate(x, exif.GPSLongitude, exif.GPSLongitudeRef)
	if !ok {
		return 0, 0, false
	}
	return lat, lon, true
}

func coordinate(x *exif.Exif, field, refField exif.FieldName) (float64, bool) {
	tag, err := x.Get(field)
	if err != nil || tag.Format() != tiff.RatVal || tag.Count < 3 {
		return 0, false
	}
	var dms [3]float64
	for i := range dms {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return 0, false
		}
		dms[i] = float64(num) / float64(den)
	}
	return DMSToDecimal(dms[0], dms[1], dms[2], stringTag(x, refField)), true
}

func stringTag(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func ratTag(x *exif.Exif, field exif.FieldName, i int) (num, den int64, ok bool) {
	tag, err := x.Get(field)
	if err != nil || tag.Format() != tiff.RatVal || int(tag.Count) <= i {
		return 0, 0, false
	}
	num, den, err = tag.Rat2(i)
	if err != nil || den == 0 {
		return 0, 0, false
	}
	return num, den, true
}

func floatTag(x *exif.Exif, field exif.FieldName) (float64, bool) {
	num, den, ok := ratTag(x, field, 0)
	if !ok {
		return 0, false
	}
	return float64(num) / float64(den), true
}

func intTag(x *exif.Exif, field exif.FieldName) (int, bool) {
	tag, err := x.Get(field)
	if err != nil || tag.Count == 0 {
		return 0, false
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatExposure(num, den int64) string {
	if num <= 0 {
		return "0"
	}
	if num < den {
		if den%num == 0 {
			return fmt.Sprintf("1/%d", den/num)
		}
		return fmt.Sprintf("%d/%d", num, den)
	}
	return strconv.FormatFloat(float64(num)/float64(den), 'f', -1, 64)
}

func describeFlash(v int) string {
	if v&1 == 1 {
		return "Fired"
	}
	return "NotFired"
}

func lookupMode(modes map[int]string, v int) string {
	if name, ok := modes[v]; ok {
		return name
	}
	return strconv.Itoa(v)
}
