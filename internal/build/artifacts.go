package build

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// SizeInfo is a section-size breakdown, in bytes, as reported by a
// size-report tool's "text data bss dec hex filename" table.
type SizeInfo struct {
	Text  int64 `json:"text"`
	Data  int64 `json:"data"`
	BSS   int64 `json:"bss"`
	Total int64 `json:"total"`
}

// Artifacts is the set of files a build may produce, with existence flags
// computed at emit time so consumers can gate actions without re-statting.
type Artifacts struct {
	ElfPath   string    `json:"elf_path"`
	BinPath   string    `json:"bin_path,omitempty"`
	HexPath   string    `json:"hex_path,omitempty"`
	MapPath   string    `json:"map_path,omitempty"`
	SizeInfo  *SizeInfo `json:"size_report,omitempty"`
	ElfExists bool      `json:"elf_exists"`
	BinExists bool      `json:"bin_exists"`
	MapExists bool      `json:"map_exists"`
}

// statArtifacts refreshes the *_exists flags against the filesystem.
func statArtifacts(a Artifacts) Artifacts {
	a.ElfExists = fileExists(a.ElfPath)
	a.BinExists = a.BinPath != "" && fileExists(a.BinPath)
	a.MapExists = a.MapPath != "" && fileExists(a.MapPath)
	return a
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// parseSizeReport parses a size tool's Berkeley-format table:
//
//	   text    data     bss     dec     hex filename
//	   4096     128    1024    5248    1480 firmware.elf
//
// returning false if no data row is found.
func parseSizeReport(output string) (SizeInfo, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "text") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		text, err1 := strconv.ParseInt(fields[0], 10, 64)
		data, err2 := strconv.ParseInt(fields[1], 10, 64)
		bss, err3 := strconv.ParseInt(fields[2], 10, 64)
		dec, err4 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		return SizeInfo{Text: text, Data: data, BSS: bss, Total: dec}, true
	}
	return SizeInfo{}, false
}
