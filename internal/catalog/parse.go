package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// sourceRow は入力CSVの1データ行です。
type sourceRow struct {
	serialNumber int
	productName  string
	inputRefs    []string
}

// rowError は読み飛ばされた行とその理由を表します。
type rowError struct {
	line int
	err  error
}

// parseSource はヘッダー行＋データ行のCSVを読み込みます。
// 各データ行の列は「シリアル番号・商品名・カンマ区切りの画像URL」です。
// 行単位の解析エラーはジョブを失敗させず、rowError として返します。
// 入力自体が読めない場合のみエラーを返します。
func parseSource(r io.Reader) ([]sourceRow, []rowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil, fmt.Errorf("source table is empty")
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var (
		rows    []sourceRow
		rowErrs []rowError
	)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// 引用符の不整合などはその行だけを読み飛ばす
				rowErrs = append(rowErrs, rowError{line: line, err: err})
				continue
			}
			return nil, nil, fmt.Errorf("failed to read source table: %w", err)
		}

		row, err := parseRow(record)
		if err != nil {
			rowErrs = append(rowErrs, rowError{line: line, err: err})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

func parseRow(record []string) (sourceRow, error) {
	if len(record) < 3 {
		return sourceRow{}, fmt.Errorf("expected 3 columns, got %d", len(record))
	}

	serial, err := strconv.Atoi(strings.TrimSpace(record[0]))
	if err != nil {
		return sourceRow{}, fmt.Errorf("invalid serial number %q: %w", record[0], err)
	}

	return sourceRow{
		serialNumber: serial,
		productName:  strings.TrimSpace(record[1]),
		inputRefs:    splitRefs(record[2]),
	}, nil
}

// splitRefs はカンマ区切りのURL列を元の順序のまま分解します。
func splitRefs(raw string) []string {
	parts := strings.Split(raw, ",")
	refs := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			refs = append(refs, trimmed)
		}
	}
	return refs
}
