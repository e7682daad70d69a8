package utils

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scythe504/drawguess/internal"
)

var ErrNoWords = errors.New("word list is empty")

// ReadWordsFile loads a word list. Files ending in .csv hold "word,category"
// records; anything else is one word per line. Lines starting with '#' are
// comments in both formats.
func ReadWordsFile(filePath string) ([]internal.Word, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open word list %s: %w", filePath, err)
	}
	defer f.Close()

	var words []internal.Word
	if strings.EqualFold(filepath.Ext(filePath), ".csv") {
		words, err = ReadCsvWords(f)
	} else {
		words, err = ReadPlainWords(f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse word list %s: %w", filePath, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNoWords)
	}
	return words, nil
}

func ReadCsvWords(r io.Reader) ([]internal.Word, error) {
	csvReader := csv.NewReader(r)
	csvReader.Comment = '#'
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, err
	}

	var words []internal.Word
	for _, record := range records {
		text := strings.TrimSpace(record[0])
		if text == "" {
			log.Debug().Strs("record", record).Msg("[ReadCsvWords] skipping record without word")
			continue
		}
		word := internal.Word{Text: text}
		if len(record) > 1 {
			word.Category = strings.TrimSpace(record[1])
		}
		words = append(words, word)
	}
	return words, nil
}

func ReadPlainWords(r io.Reader) ([]internal.Word, error) {
	var words []internal.Word
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, internal.Word{Text: line})
	}
	return words, scanner.Err()
}
