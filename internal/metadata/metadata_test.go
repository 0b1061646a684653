package metadata_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kiranshivaraju/picflow/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

// gradient returns a noisy test image so JPEG output has realistic size.
func gradient(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.White)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x * y) % 251), A: 255})
		}
	}
	return img
}

func writeImage(t *testing.T, dir, name string, img image.Image, opts ...imaging.EncodeOption) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path, opts...))
	return path
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

const (
	typeASCII    = 2
	typeLong     = 4
	typeRational = 5
)

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

func rationalEntry(tag uint16, vals ...[2]uint32) ifdEntry {
	b := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, v[0])
		b = binary.LittleEndian.AppendUint32(b, v[1])
	}
	return ifdEntry{tag: tag, typ: typeRational, count: uint32(len(vals)), data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	return ifdEntry{tag: tag, typ: typeLong, count: 1, data: binary.LittleEndian.AppendUint32(nil, v)}
}

func ifdSize(entries []ifdEntry) int {
	size := 2 + 12*len(entries) + 4
	for _, e := range entries {
		if len(e.data) > 4 {
			size += len(e.data) + len(e.data)%2
		}
	}
	return size
}

func writeIFD(buf []byte, offset int, entries []ifdEntry) []byte {
	dataOff := offset + 2 + 12*len(entries) + 4
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(entries)))
	var data []byte
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint16(buf, e.tag)
		buf = binary.LittleEndian.AppendUint16(buf, e.typ)
		buf = binary.LittleEndian.AppendUint32(buf, e.count)
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			buf = append(buf, inline...)
			continue
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(dataOff+len(data)))
		data = append(data, e.data...)
		if len(e.data)%2 == 1 {
			data = append(data, 0)
		}
	}
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	return append(buf, data...)
}

// exifBlock builds a little-endian TIFF structure with camera, capture time
// and GPS (40°26'46" S, 73°58'30" W) tags.
func exifBlock() []byte {
	exifIFD := []ifdEntry{
		rationalEntry(0x829A, [2]uint32{1, 250}),
		rationalEntry(0x829D, [2]uint32{28, 10}),
		asciiEntry(0x9003, "2023:07:14 09:30:00"),
		rationalEntry(0x920A, [2]uint32{50, 1}),
	}
	gpsIFD := []ifdEntry{
		asciiEntry(0x0001, "S"),
		rationalEntry(0x0002, [2]uint32{40, 1}, [2]uint32{26, 1}, [2]uint32{46, 1}),
		asciiEntry(0x0003, "W"),
		rationalEntry(0x0004, [2]uint32{73, 1}, [2]uint32{58, 1}, [2]uint32{30, 1}),
	}
	ifd0 := []ifdEntry{
		asciiEntry(0x010F, "Canon"),
		asciiEntry(0x0110, "EOS R5"),
		longEntry(0x8769, 0),
		longEntry(0x8825, 0),
	}

	off0 := 8
	offExif := off0 + ifdSize(ifd0)
	offGPS := offExif + ifdSize(exifIFD)
	ifd0[2] = longEntry(0x8769, uint32(offExif))
	ifd0[3] = longEntry(0x8825, uint32(offGPS))

	buf := []byte{'I', 'I', 0x2A, 0x00}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(off0))
	buf = writeIFD(buf, off0, ifd0)
	buf = writeIFD(buf, offExif, exifIFD)
	buf = writeIFD(buf, offGPS, gpsIFD)
	return buf
}

// writeJPEGWithExif encodes img as JPEG and splices an APP1 EXIF segment after SOI.
func writeJPEGWithExif(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var enc bytes.Buffer
	require.NoError(t, imaging.Encode(&enc, img, imaging.JPEG))
	raw := enc.Bytes()

	payload := append([]byte("Exif\x00\x00"), exifBlock()...)
	seg := []byte{0xFF, 0xE1}
	seg = binary.BigEndian.AppendUint16(seg, uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, raw[:2]...)
	out = append(out, seg...)
	out = append(out, raw[2:]...)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

// --- GPS ---

func TestDMSToDecimal_South(t *testing.T) {
	got := metadata.DMSToDecimal(40, 26, 46, "S")
	assert.InDelta(t, -40.446111, got, 1e-6)
}

func TestDMSToDecimal_North(t *testing.T) {
	got := metadata.DMSToDecimal(40, 26, 46, "N")
	assert.InDelta(t, 40.446111, got, 1e-6)
}

func TestDMSToDecimal_WestAndEast(t *testing.T) {
	assert.InDelta(t, -73.975, metadata.DMSToDecimal(73, 58, 30, "W"), 1e-9)
	assert.InDelta(t, 73.975, metadata.DMSToDecimal(73, 58, 30, "E"), 1e-9)
	assert.InDelta(t, -73.975, metadata.DMSToDecimal(73, 58, 30, " w "), 1e-9)
}

// --- Capture time ---

func TestCaptureTime_LocalToUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	got := metadata.CaptureTime("2023:07:14 09:30:00", loc)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, 7, 14, 7, 30, 0, 0, time.UTC), *got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestCaptureTime_TrailingNUL(t *testing.T) {
	got := metadata.CaptureTime("2023:07:14 09:30:00\x00", time.UTC)
	require.NotNil(t, got)
	assert.Equal(t, 9, got.Hour())
}

func TestCaptureTime_EmptyOrInvalid(t *testing.T) {
	assert.Nil(t, metadata.CaptureTime("", time.UTC))
	assert.Nil(t, metadata.CaptureTime("yesterday", time.UTC))
	assert.Nil(t, metadata.CaptureTime("2023-07-14 09:30:00", time.UTC))
}

// --- Quality policy ---

func TestQualityFor_Thresholds(t *testing.T) {
	p := metadata.DefaultPolicy()

	assert.LessOrEqual(t, p.QualityFor(11<<20), 65)
	assert.LessOrEqual(t, p.QualityFor(6<<20), 70)
	assert.Greater(t, p.QualityFor(6<<20), 65)
	assert.LessOrEqual(t, p.QualityFor(2<<20), 75)
	assert.Greater(t, p.QualityFor(2<<20), 70)
	assert.Equal(t, 85, p.QualityFor(100<<10))
}

func TestQualityFor_NeverRaisesLowBase(t *testing.T) {
	p := metadata.DefaultPolicy()
	p.BaseQuality = 60

	assert.Equal(t, 60, p.QualityFor(11<<20))
	assert.Equal(t, 60, p.QualityFor(2<<20))
}

// --- Thumbnail ---

func TestGenerate_JPEGFitsMaxDimension(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "wide.jpg", gradient(1200, 600), imaging.JPEGQuality(95))

	thumb, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(src)
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", thumb.ContentType)
	assert.Equal(t, ".jpg", thumb.Extension)
	assert.Equal(t, 500, thumb.Width)
	assert.Equal(t, 250, thumb.Height)

	decoded, err := imaging.Decode(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.Equal(t, 500, decoded.Bounds().Dx())
}

func TestGenerate_DoesNotUpscale(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "small.jpg", gradient(120, 80))

	thumb, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(src)
	require.NoError(t, err)
	assert.Equal(t, 120, thumb.Width)
	assert.Equal(t, 80, thumb.Height)
}

func TestGenerate_PNGStaysPNG(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "icon.png", gradient(800, 800))

	thumb, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(src)
	require.NoError(t, err)

	assert.Equal(t, "image/png", thumb.ContentType)
	assert.Equal(t, 0, thumb.Quality)
	_, format, err := image.Decode(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestGenerate_LargeSourceQualityCapped(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "big.jpg", gradient(900, 900), imaging.JPEGQuality(100))

	// Thresholds shrunk so the fixture counts as a >"10MB" source.
	p := metadata.DefaultPolicy()
	p.SmallBytes, p.MediumBytes, p.LargeBytes = 1, 2, 3

	thumb, err := metadata.NewThumbnailer(p).Generate(src)
	require.NoError(t, err)
	assert.LessOrEqual(t, thumb.Quality, 65)

	_, err = imaging.Decode(bytes.NewReader(thumb.Data))
	assert.NoError(t, err)
}

func TestGenerate_SecondPassWhenNotSmaller(t *testing.T) {
	dir := t.TempDir()
	// A tiny, heavily compressed source is hard to beat on the first pass.
	src := writeImage(t, dir, "tiny.jpg", gradient(60, 40), imaging.JPEGQuality(5))

	thumb, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(src)
	require.NoError(t, err)
	assert.Equal(t, 2, thumb.Passes)
	assert.Greater(t, thumb.Quality, 0)
}

func TestGenerate_TransparentSourceBecomesOpaqueJPEG(t *testing.T) {
	dir := t.TempDir()
	img := imaging.New(300, 300, color.NRGBA{R: 0, G: 0, B: 0, A: 0})
	src := writeImage(t, dir, "clear.tiff", img)

	thumb, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(src)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", thumb.ContentType)

	decoded, err := imaging.Decode(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(10, 10).RGBA()
	assert.Greater(t, r, uint32(0xF000))
	assert.Greater(t, g, uint32(0xF000))
	assert.Greater(t, b, uint32(0xF000))
}

func TestGenerate_StripsExif(t *testing.T) {
	dir := t.TempDir()
	src := writeJPEGWithExif(t, dir, "camera.jpg", gradient(640, 480))
	require.Equal(t, "Canon", metadata.ReadExif(src).Make)

	thumb, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(src)
	require.NoError(t, err)

	out := filepath.Join(dir, "thumb.jpg")
	require.NoError(t, os.WriteFile(out, thumb.Data, 0o644))
	info := metadata.ReadExif(out)
	assert.Empty(t, info.Make)
	assert.NotEmpty(t, info.Error)
}

func TestGenerate_MissingSource(t *testing.T) {
	_, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(filepath.Join(t.TempDir(), "gone.jpg"))
	require.Error(t, err)
	assert.ErrorIs(t, err, metadata.ErrSourceNotFound)
	assert.Contains(t, err.Error(), "gone.jpg")
}

func TestGenerate_NotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.jpg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a jpeg"), 0o644))

	_, err := metadata.NewThumbnailer(metadata.DefaultPolicy()).Generate(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, metadata.ErrSourceNotFound)
}

// --- EXIF ---

func TestReadExif_AllFields(t *testing.T) {
	src := writeJPEGWithExif(t, t.TempDir(), "camera.jpg", gradient(64, 64))

	info := metadata.ReadExif(src)
	assert.Empty(t, info.Error)
	assert.Equal(t, "Canon", info.Make)
	assert.Equal(t, "EOS R5", info.Model)
	assert.Equal(t, "1/250", info.ExposureTime)
	require.NotNil(t, info.FNumber)
	assert.InDelta(t, 2.8, *info.FNumber, 1e-9)
	require.NotNil(t, info.FocalLength)
	assert.InDelta(t, 50.0, *info.FocalLength, 1e-9)
	assert.Equal(t, "2023:07:14 09:30:00", info.DateTimeOriginal)

	require.NotNil(t, info.Latitude)
	require.NotNil(t, info.Longitude)
	assert.InDelta(t, -40.446111, *info.Latitude, 1e-6)
	assert.InDelta(t, -73.975, *info.Longitude, 1e-6)
}

func TestReadExif_NoExifIsGraceful(t *testing.T) {
	src := writeImage(t, t.TempDir(), "plain.png", gradient(32, 32))

	info := metadata.ReadExif(src)
	assert.NotEmpty(t, info.Error)
	assert.Empty(t, info.Make)
	assert.Nil(t, info.Latitude)
}

func TestReadExif_MissingFile(t *testing.T) {
	info := metadata.ReadExif(filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Contains(t, info.Error, "open image")
}

// --- Extractor ---

func TestExtractor_ThumbnailAndExif(t *testing.T) {
	src := writeJPEGWithExif(t, t.TempDir(), "camera.jpg", gradient(800, 600))

	ex := metadata.NewExtractor(metadata.DefaultPolicy(), metadata.WithLocation(time.UTC))
	thumb, err := ex.Thumbnail(src)
	require.NoError(t, err)
	assert.Equal(t, 500, thumb.Width)

	info, taken := ex.Exif(src)
	assert.Equal(t, "Canon", info.Make)
	require.NotNil(t, taken)
	assert.Equal(t, time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC), *taken)
}

func TestExtractor_CaptureTimeUsesLocation(t *testing.T) {
	src := writeJPEGWithExif(t, t.TempDir(), "camera.jpg", gradient(64, 64))
	tokyo := time.FixedZone("JST", 9*60*60)

	_, taken := metadata.NewExtractor(metadata.DefaultPolicy(), metadata.WithLocation(tokyo)).Exif(src)
	require.NotNil(t, taken)
	assert.Equal(t, time.Date(2023, 7, 14, 0, 30, 0, 0, time.UTC), taken.UTC())
}

func TestExtractor_ThumbnailMissingSource(t *testing.T) {
	ex := metadata.NewExtractor(metadata.DefaultPolicy())
	_, err := ex.Thumbnail(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.ErrorIs(t, err, metadata.ErrSourceNotFound)
}
