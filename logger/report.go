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

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type topicStat struct {
	frames int64
	bytes  int64
}

var (
	errorsTransport int64
	errorsDispatch  int64
	warnsTransport  int64
	warnsDispatch   int64
	framesReceived  int64
	framesDropped   int64
	reconnects      int64
	topics          sync.Map // map[string]*topicStat
)

func recordWarn(component string) {
	if strings.Contains(component, "transport") {
		atomic.AddInt64(&warnsTransport, 1)
	} else if strings.Contains(component, "router") || strings.Contains(component, "bus") {
		atomic.AddInt64(&warnsDispatch, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "transport") {
		atomic.AddInt64(&errorsTransport, 1)
	} else if strings.Contains(component, "router") || strings.Contains(component, "bus") {
		atomic.AddInt64(&errorsDispatch, 1)
	}
}

// IncrementFrameReceived records one inbound frame for the given topic.
func IncrementFrameReceived(topic string, size int) {
	atomic.AddInt64(&framesReceived, 1)
	recordTopic(topic, size)
}

// IncrementFrameDropped records a frame discarded by the router.
func IncrementFrameDropped() {
	atomic.AddInt64(&framesDropped, 1)
}

// IncrementReconnect records one reconnect attempt of the transport channel.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func recordTopic(name string, size int) {
	v, _ := topics.LoadOrStore(name, &topicStat{})
	ts := v.(*topicStat)
	atomic.AddInt64(&ts.frames, 1)
	atomic.AddInt64(&ts.bytes, int64(size))
}

// StartReport begins periodic logging of system and feed statistics.
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

	topicData := map[string]map[string]int64{}
	topics.Range(func(k, v any) bool {
		name := k.(string)
		ts := v.(*topicStat)
		topicData[name] = map[string]int64{
			"frames": atomic.LoadInt64(&ts.frames),
			"bytes":  atomic.LoadInt64(&ts.bytes),
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

	fields := Fields{
		"errors_transport": atomic.LoadInt64(&errorsTransport),
		"errors_dispatch":  atomic.LoadInt64(&errorsDispatch),
		"warns_transport":  atomic.LoadInt64(&warnsTransport),
		"warns_dispatch":   atomic.LoadInt64(&warnsDispatch),
		"frames_received":  atomic.LoadInt64(&framesReceived),
		"frames_dropped":   atomic.LoadInt64(&framesDropped),
		"reconnects":       atomic.LoadInt64(&reconnects),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        memMB,
		"topics":           topicData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsTransport"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_transport"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsDispatch"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_dispatch"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FramesReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["frames_received"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FramesDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["frames_dropped"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
	)

	for name, stats := range topicData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("TopicFrames"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Topic"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["frames"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("TopicBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Topic"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
