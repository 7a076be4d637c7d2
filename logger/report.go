package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	errorsAdapter int64
	errorsLevel2  int64
	warnsAdapter  int64
	warnsLevel2   int64
	bookFetches   int64
	ordersPlaced  int64
	archiveWrites int64
	flows         sync.Map // map[string]*flowStat
)

func recordWarn(component string) {
	if strings.Contains(component, "level2") {
		atomic.AddInt64(&warnsLevel2, 1)
	} else if strings.Contains(component, "adapter") {
		atomic.AddInt64(&warnsAdapter, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "level2") {
		atomic.AddInt64(&errorsLevel2, 1)
	} else if strings.Contains(component, "adapter") {
		atomic.AddInt64(&errorsAdapter, 1)
	}
}

// IncrementBookFetch records one order-book fetch of the given payload size.
func IncrementBookFetch(size int) {
	atomic.AddInt64(&bookFetches, 1)
	recordFlow("orderbook_rest", size)
}

// IncrementOrderPlaced records one order submission.
func IncrementOrderPlaced() {
	atomic.AddInt64(&ordersPlaced, 1)
	recordFlow("orders", 0)
}

// IncrementArchiveWrite records one archived snapshot file of size bytes.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordFlow("archive_write", int(size))
}

// RecordFlowMessage attributes one message of the given size to a named flow.
func RecordFlowMessage(name string, size int) {
	recordFlow(name, size)
}

func recordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// StartReport begins periodic logging of system and flow statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)

	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*flowStat)
		flowData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_adapter": atomic.LoadInt64(&errorsAdapter),
		"errors_level2":  atomic.LoadInt64(&errorsLevel2),
		"warns_adapter":  atomic.LoadInt64(&warnsAdapter),
		"warns_level2":   atomic.LoadInt64(&warnsLevel2),
		"book_fetches":   atomic.LoadInt64(&bookFetches),
		"orders_placed":  atomic.LoadInt64(&ordersPlaced),
		"archive_writes": atomic.LoadInt64(&archiveWrites),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      memMB,
		"flows":          flowData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("AdapterErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_adapter"].(int64)))},
		{MetricName: aws.String("Level2Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_level2"].(int64)))},
		{MetricName: aws.String("BookFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["book_fetches"].(int64)))},
		{MetricName: aws.String("OrdersPlaced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_placed"].(int64)))},
		{MetricName: aws.String("ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}

	for name, stats := range flowData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
