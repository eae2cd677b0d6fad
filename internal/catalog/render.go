package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// resultHeader は結果CSVのヘッダー行です。入力CSVと同じ列名体系を使います。
var resultHeader = []string{"S. No.", "Product Name", "Input Image URLs", "Output Image URLs"}

// renderResult は保存済みの全行からシリアル番号昇順の結果CSVを書き出し、
// 保存先パスを返します。同じ行集合に対して何度呼ばれても同じ成果物を生成します。
func (e *Executor) renderResult(ctx context.Context, jobID string) (string, error) {
	rows, err := e.store.ListRows(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to list rows: %w", err)
	}

	path := e.storage.ResultPath(jobID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create result table: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(resultHeader); err != nil {
		return "", fmt.Errorf("failed to write result header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.SerialNumber),
			row.ProductName,
			strings.Join(row.InputRefs, ","),
			strings.Join(row.OutputRefs, ","),
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("failed to write result row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush result table: %w", err)
	}
	return path, nil
}
