package classifier

// Signature describes what a magic-byte prefix identifies
type Signature struct {
	Mime      string
	Category  Category
	Extension string
}

// signatures is keyed by the lowercase hex of the prefix bytes. Lookups go
// from 8-byte prefixes down to 2-byte ones so the most specific entry wins.
var signatures = map[string]Signature{
	"ffd8ff":   {"image/jpeg", CategoryImage, "jpg"},
	"89504e":   {"image/png", CategoryImage, "png"},
	"474946":   {"image/gif", CategoryImage, "gif"},
	"424d":     {"image/bmp", CategoryImage, "bmp"},
	"49492a00": {"image/tiff", CategoryImage, "tiff"},
	"4d4d002a": {"image/tiff", CategoryImage, "tiff"},

	"000000":   {"video/mp4", CategoryVideo, "mp4"},
	"1a45dfa3": {"video/webm", CategoryVideo, "webm"},
	"464c5601": {"video/x-flv", CategoryVideo, "flv"},
	"000001":   {"video/mpeg", CategoryVideo, "mpeg"},

	"494433":   {"audio/mpeg", CategoryAudio, "mp3"},
	"fff3":     {"audio/mpeg", CategoryAudio, "mp3"},
	"fff2":     {"audio/mpeg", CategoryAudio, "mp3"},
	"fffb":     {"audio/mpeg", CategoryAudio, "mp3"},
	"4f676753": {"audio/ogg", CategoryAudio, "ogg"},
	"664c6143": {"audio/flac", CategoryAudio, "flac"},
	"4d546864": {"audio/midi", CategoryAudio, "midi"},

	"25504446": {"application/pdf", CategoryDocument, "pdf"},
	"504b0304": {"application/zip", CategoryDocument, "zip"},
	"504b0506": {"application/zip", CategoryDocument, "zip"},
	"504b0708": {"application/zip", CategoryDocument, "zip"},
	"d0cf11e0": {"application/msword", CategoryDocument, "doc"},
	"377abcaf": {"application/x-7z-compressed", CategoryDocument, "7z"},
	"1f8b08":   {"application/gzip", CategoryDocument, "gz"},
	"425a68":   {"application/x-bzip2", CategoryDocument, "bz2"},
	"526172":   {"application/x-rar-compressed", CategoryDocument, "rar"},
}

// RIFF containers share a prefix; the form type at bytes 8..12 tells them apart.
// WEBP is handled earlier as a sticker.
var riffForms = map[string]Signature{
	"AVI ": {"video/avi", CategoryVideo, "avi"},
	"WAVE": {"audio/wav", CategoryAudio, "wav"},
}

// textSignatures are 4-byte prefixes of common textual formats:
// <!DO, <HTM, <?xm, "{\n  ", "[\n  ", {"ve, <svg, #!/b, /***
var textSignatures = map[string]struct{}{
	"3c21444f": {},
	"3c48544d": {},
	"3c3f786d": {},
	"7b0a2020": {},
	"5b0a2020": {},
	"7b227665": {},
	"3c737667": {},
	"23212f62": {},
	"2f2a2a2a": {},
}

// Signatures returns a copy of the magic-byte table
func Signatures() map[string]Signature {
	out := make(map[string]Signature, len(signatures))
	for k, v := range signatures {
		out[k] = v
	}
	return out
}
