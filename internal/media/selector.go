package media

import (
	"math"
	"strconv"
	"strings"
)

// mediumReferenceBitrate は medium 指定時の基準ビットレート（kbps）です。
const mediumReferenceBitrate = 128

// SelectVariant は音質の希望に従ってストリームを1つ選びます。
// low は最小、high は最大、medium は 128kbps に最も近いものを選び、同点は先勝ちです。
// ビットレートを解釈できないストリームは、解釈できるものが1つでもあれば選ばれません。
func SelectVariant(variants []Variant, quality Quality) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}

	best := -1
	var bestScore float64
	for i, v := range variants {
		bitrate, ok := parseBitrate(v.Bitrate)
		if !ok {
			continue
		}

		var score float64
		switch quality {
		case QualityLow:
			score = bitrate
		case QualityMedium:
			score = math.Abs(bitrate - mediumReferenceBitrate)
		default:
			score = -bitrate
		}

		// 厳密に小さい場合のみ更新し、同点では先に現れたものを残す
		if best < 0 || score < bestScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 {
		return variants[0], true
	}
	return variants[best], true
}

// parseBitrate は "128kbps" や "160" のような表記を数値に変換します。
func parseBitrate(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, "kbps")
	s = strings.TrimSuffix(s, "k")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}
