package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/metrics/export/internaldefs"
)

// MetricsSource is what the exporter reads on every scrape. *goRecovery.Engine
// implements it.
type MetricsSource interface {
	MetricsSnapshot() goRecovery.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders a fresh snapshot on every scrape.
type PrometheusExporter struct {
	source MetricsSource
}

func NewPrometheusExporter(engine *goRecovery.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render with the text exposition content type.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled and no
// audit event was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := &textWriter{}
	w.Grow(2048)

	for _, f := range internaldefs.Families {
		w.header(f.Name, f.Help, "counter")
		for _, s := range f.Series {
			w.sample(f.Name, s.Labels, snapshot.Counters[s.ID])
		}
	}

	for _, h := range internaldefs.Histograms {
		raw, ok := snapshot.Histograms[h.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.Cumulative(raw)
		w.header(h.Name, h.Help, "histogram")
		for i, v := range cumulative {
			w.sample(h.Name+"_bucket", []internaldefs.Label{{Key: "le", Value: internaldefs.BucketLabel(i)}}, v)
		}
		w.sample(h.Name+"_count", nil, cumulative[len(cumulative)-1])
		// The engine keeps bucket counts only.
		w.sample(h.Name+"_sum", nil, 0)
	}

	w.header(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	w.sample(internaldefs.AuditDroppedName, nil, dropped)

	return w.String()
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) header(name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *textWriter) sample(name string, labels []internaldefs.Label, value uint64) {
	w.WriteString(name)
	if len(labels) > 0 {
		w.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				w.WriteByte(',')
			}
			w.WriteString(l.Key)
			w.WriteString(`="`)
			w.WriteString(escapeLabel(l.Value))
			w.WriteByte('"')
		}
		w.WriteByte('}')
	}
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(value, 10))
	w.WriteByte('\n')
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(help string) string   { return helpEscaper.Replace(help) }
func escapeLabel(value string) string { return labelEscaper.Replace(value) }
