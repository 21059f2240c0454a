package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orderdash/internal/orders"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// OrderMetricsRow matches the Glue table columns. Money columns are
// DECIMAL(18,2) stored as scaled int64.
type OrderMetricsRow struct {
	ShopID     string `parquet:"name=shop_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	MetricDate string `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	OrderCount int64  `parquet:"name=order_count, type=INT64"`
	Revenue    int64  `parquet:"name=revenue, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
	AvgOrder   int64  `parquet:"name=avg_order_value, type=INT64, convertedtype=DECIMAL, scale=2, precision=18"`
}

type ShopLister interface {
	Shops(ctx context.Context) ([]string, error)
}

type Summarizer interface {
	Summary(ctx context.Context, shop string) (orders.Summary, error)
}

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type ExportResult struct {
	Ok       bool   `json:"ok"`
	Shops    int    `json:"shops"`
	DaysBack int    `json:"days_back"`
	Written  int    `json:"written"`
	Orders   int    `json:"orders"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix"`
	Reason   string `json:"reason,omitempty"`
	Repair   *Resp  `json:"repair,omitempty"`
}

// OrderMetricsETL writes one Parquet row per (shop, day) under
//
//	<prefix>dt=YYYY-MM-DD/shop_id=<shop>/part-<rand>.parquet
type OrderMetricsETL struct {
	Shops    ShopLister
	Orders   Summarizer
	S3       ObjectPutter
	Bucket   string
	Prefix   string
	DaysBack int

	// Repair runs after a successful export when set.
	Repair *PartitionRepairer

	Log *logrus.Logger
	Now func() time.Time
}

// Run is triggered by the EventBridge schedule. Days are UTC and include
// today; DaysBack is capped at the order window.
func (h *OrderMetricsETL) Run(ctx context.Context) (ExportResult, error) {
	prefix := ensureTrailingSlash(h.Prefix)
	daysBack := h.DaysBack
	if daysBack < 1 {
		daysBack = 1
	}
	daysBack = min(daysBack, orders.WindowDays)
	res := ExportResult{DaysBack: daysBack, Bucket: h.Bucket, Prefix: prefix}

	shops, err := h.Shops.Shops(ctx)
	if err != nil {
		return res, fmt.Errorf("list shops: %w", err)
	}
	res.Shops = len(shops)
	if len(shops) == 0 {
		res.Ok = true
		res.Reason = "no shops found"
		return res, nil
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	today := now().UTC()

	for _, shop := range shops {
		sum, err := h.Orders.Summary(ctx, shop)
		if err != nil {
			return res, fmt.Errorf("summarize shop=%s: %w", shop, err)
		}
		byDate := make(map[string]orders.DailyRevenue, len(sum.Timeseries))
		for _, d := range sum.Timeseries {
			byDate[d.Date] = d
		}

		for i := 0; i < daysBack; i++ {
			dt := today.AddDate(0, 0, -i).Format("2006-01-02")
			row := metricsRow(shop, dt, byDate[dt])

			key := fmt.Sprintf("%sdt=%s/shop_id=%s/part-%s.parquet", prefix, dt, shop, randHex(8))
			if err := h.writeOneParquetRowToS3(ctx, key, row); err != nil {
				return res, fmt.Errorf("write parquet for shop=%s dt=%s: %w", shop, dt, err)
			}
			res.Written++
			res.Orders += int(row.OrderCount)
		}
	}

	if h.Repair != nil {
		rep, err := h.Repair.Run(ctx)
		res.Repair = &rep
		if err != nil {
			return res, fmt.Errorf("repair partitions: %w", err)
		}
	}

	res.Ok = true
	h.logger().WithFields(logrus.Fields{
		"shops":   res.Shops,
		"written": res.Written,
		"orders":  res.Orders,
	}).Info("order metrics exported")
	return res, nil
}

func metricsRow(shop, dt string, d orders.DailyRevenue) OrderMetricsRow {
	row := OrderMetricsRow{
		ShopID:     shop,
		MetricDate: dt,
		OrderCount: int64(d.Orders),
		Revenue:    cents(d.Revenue),
	}
	if d.Orders > 0 {
		row.AvgOrder = cents(d.Revenue.Div(decimal.NewFromInt(int64(d.Orders))))
	}
	return row
}

func cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func (h *OrderMetricsETL) writeOneParquetRowToS3(ctx context.Context, key string, row OrderMetricsRow) error {
	localPath := filepath.Join(os.TempDir(), "order_metrics_"+randHex(8)+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(OrderMetricsRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}

	_, err = h.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

func (h *OrderMetricsETL) logger() *logrus.Logger {
	if h.Log != nil {
		return h.Log
	}
	return logrus.StandardLogger()
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
