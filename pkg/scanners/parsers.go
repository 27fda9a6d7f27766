package scanners

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/tidwall/gjson"
)

// eachLine runs fn over every non-blank line of raw, collecting a warning
// for lines that are not valid JSON rather than aborting the whole parse —
// loose parsing is deliberate: a single malformed line from a noisy scanner
// must not discard the rest of the run's output.
func eachLine(raw string, fn func(line gjson.Result)) []string {
	var warnings []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			warnings = append(warnings, "unparseable line: "+truncateFor(line, 120))
			continue
		}
		fn(gjson.Parse(line))
	}
	return warnings
}

func truncateFor(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// parseSubfinder reads subfinder -json lines: {"host":"...","input":"...","source":[...]}.
func parseSubfinder(raw string) (ParseResult, error) {
	var res ParseResult
	res.Warnings = eachLine(raw, func(line gjson.Result) {
		host := line.Get("host").String()
		if host == "" {
			return
		}
		res.Assets = append(res.Assets, ParsedAsset{Type: domain.AssetSubdomain, Raw: host})
	})
	return res, nil
}

// parseDNSResolve reads dnsx -json lines: {"host":"...","a":["1.2.3.4",...]}.
func parseDNSResolve(raw string) (ParseResult, error) {
	var res ParseResult
	res.Warnings = eachLine(raw, func(line gjson.Result) {
		host := line.Get("host").String()
		if host == "" {
			return
		}
		for _, ip := range line.Get("a").Array() {
			ipStr := ip.String()
			if ipStr == "" {
				continue
			}
			res.Assets = append(res.Assets, ParsedAsset{Type: domain.AssetIP, Raw: ipStr})
			res.Edges = append(res.Edges, ParsedEdge{FromRaw: host, ToRaw: ipStr, RelType: domain.RelResolvesTo})
		}
	})
	return res, nil
}

// nmapRun / nmapHost / nmapPort mirror the subset of nmap's -oX XML schema
// the parser consumes.
type nmapRun struct {
	Hosts []nmapHost `xml:"host"`
}

type nmapHost struct {
	Address nmapAddress `xml:"address"`
	Ports   struct {
		Port []nmapPort `xml:"port"`
	} `xml:"ports"`
}

type nmapAddress struct {
	Addr string `xml:"addr,attr"`
}

type nmapPort struct {
	PortID   string `xml:"portid,attr"`
	Protocol string `xml:"protocol,attr"`
	State    struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name    string `xml:"name,attr"`
		Product string `xml:"product,attr"`
		Version string `xml:"version,attr"`
	} `xml:"service"`
}

// parseNmap reads nmap's -oX XML output.
func parseNmap(raw string) (ParseResult, error) {
	var res ParseResult
	var run nmapRun
	if err := xml.Unmarshal([]byte(raw), &run); err != nil {
		res.Warnings = append(res.Warnings, "nmap xml parse error: "+err.Error())
		return res, nil
	}
	for _, h := range run.Hosts {
		if h.Address.Addr == "" {
			continue
		}
		for _, p := range h.Ports.Port {
			if p.State.State != "open" {
				continue
			}
			res.Services = append(res.Services, ParsedService{
				HostRaw: h.Address.Addr,
				Port:    p.PortID,
				Proto:   p.Protocol,
				Name:    p.Service.Name,
				Product: p.Service.Product,
				Version: p.Service.Version,
			})
		}
	}
	return res, nil
}

// parseHTTPX reads httpx -json lines:
// {"url":"https://host:443","input":"host:443","status_code":200,"webserver":"nginx","tech":[...]}.
func parseHTTPX(raw string) (ParseResult, error) {
	var res ParseResult
	res.Warnings = eachLine(raw, func(line gjson.Result) {
		u := line.Get("url").String()
		if u == "" {
			return
		}
		res.Assets = append(res.Assets, ParsedAsset{Type: domain.AssetURL, Raw: u})
		input := line.Get("input").String()
		if input == "" {
			input = line.Get("host").String()
		}
		if input != "" {
			res.Edges = append(res.Edges, ParsedEdge{FromRaw: input, ToRaw: u, RelType: domain.RelServes})
		}
		if loc := line.Get("location").String(); loc != "" {
			res.Edges = append(res.Edges, ParsedEdge{FromRaw: u, ToRaw: loc, RelType: domain.RelRedirectsTo})
		}
	})
	return res, nil
}

// parseNuclei reads nuclei -jsonl lines:
// {"template-id":"...","info":{"name":"...","severity":"high","description":"...",
//  "classification":{"cve-id":["..."],"cvss-score":7.5}},"host":"https://..."}.
func parseNuclei(raw string) (ParseResult, error) {
	var res ParseResult
	res.Warnings = eachLine(raw, func(line gjson.Result) {
		host := line.Get("host").String()
		if host == "" {
			return
		}
		sevRaw := strings.ToLower(line.Get("info.severity").String())
		sev := domain.SeverityInfo
		switch sevRaw {
		case "critical":
			sev = domain.SeverityCritical
		case "high":
			sev = domain.SeverityHigh
		case "medium":
			sev = domain.SeverityMedium
		case "low":
			sev = domain.SeverityLow
		}
		cve := ""
		if arr := line.Get("info.classification.cve-id").Array(); len(arr) > 0 {
			cve = arr[0].String()
		}
		cvss, _ := strconv.ParseFloat(line.Get("info.classification.cvss-score").Raw, 64)
		res.Findings = append(res.Findings, ParsedFinding{
			AssetRaw:    host,
			Severity:    sev,
			Title:       line.Get("info.name").String(),
			Description: line.Get("info.description").String(),
			CVE:         cve,
			CVSS:        cvss,
		})
	})
	return res, nil
}
