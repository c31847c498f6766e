package ui

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// PrintQR renders a QR code to the terminal as compact half-block glyphs.
func PrintQR(s string) error {
	// Low error correction keeps the matrix small enough for most terminals.
	qr, err := qrcode.New(s, qrcode.Low)
	if err != nil {
		return err
	}
	qr.DisableBorder = true

	bm := qr.Bitmap()
	w := len(bm[0])
	if cols := detectTerminalColumns(); cols > 0 && w > cols {
		fmt.Fprintf(os.Stdout, "(QR width %d exceeds terminal columns %d)\n", w, cols)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	h := len(bm)
	for y := 0; y < h; y += 2 {
		var b strings.Builder
		for x := 0; x < w; x++ {
			top := bm[y][x]
			bottom := false
			if y+1 < h {
				bottom = bm[y+1][x]
			}
			b.WriteRune(pixel(top, bottom))
		}
		b.WriteRune('\n')
		out.WriteString(b.String())
	}
	return nil
}

func pixel(top, bottom bool) rune {
	switch {
	case top && bottom:
		return '█'
	case top && !bottom:
		return '▀'
	case !top && bottom:
		return '▄'
	default:
		return ' '
	}
}

// detectTerminalColumns returns terminal columns via the COLUMNS env var.
func detectTerminalColumns() int {
	s := os.Getenv("COLUMNS")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
