package keys

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// GlobalPeriod is the period of the partition holding the route registry.
const GlobalPeriod = "global"

const registryFile = "params.json"

var yearMonthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// PartitionKey identifies one remote file and doubles as its write-queue key.
type PartitionKey struct {
	SiteCode string
	Period   string
}

// MonthKey returns the key of the monthly partition of a site.
func MonthKey(siteLabel, yearMonth string) PartitionKey {
	return PartitionKey{SiteCode: NormalizeSiteCode(siteLabel), Period: yearMonth}
}

// RegistryKey returns the key of the route registry.
func RegistryKey() PartitionKey {
	return PartitionKey{Period: GlobalPeriod}
}

// IsRegistry reports whether k designates the route registry.
func (k PartitionKey) IsRegistry() bool {
	return k.Period == GlobalPeriod
}

func (k PartitionKey) String() string {
	if k.IsRegistry() {
		return GlobalPeriod
	}
	return k.SiteCode + "/" + k.Period
}

// Resolver turns partition keys into remote paths under a base directory.
type Resolver struct {
	baseDir string
}

// NewResolver creates a resolver rooted at baseDir. Trailing slashes are dropped.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{baseDir: strings.TrimRight(baseDir, "/")}
}

// BaseDir returns the trimmed base directory.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Path returns the remote file of a partition.
func (r *Resolver) Path(k PartitionKey) string {
	if k.IsRegistry() {
		return r.RegistryPath()
	}
	return r.MonthlyPath(k.SiteCode, k.Period)
}

// MonthlyPath returns {base}/{SITE}/{YYYY-MM}.json.
func (r *Resolver) MonthlyPath(siteCode, yearMonth string) string {
	return r.join(NormalizeSiteCode(siteCode), yearMonth+".json")
}

// RegistryPath returns {base}/params.json.
func (r *Resolver) RegistryPath() string {
	return r.join(registryFile)
}

// SiteDir returns {base}/{SITE}.
func (r *Resolver) SiteDir(siteCode string) string {
	return r.join(NormalizeSiteCode(siteCode))
}

func (r *Resolver) join(elem ...string) string {
	if r.baseDir == "" {
		return path.Join(elem...)
	}
	return path.Join(append([]string{r.baseDir}, elem...)...)
}

// YearMonth returns the YYYY-MM period of a date string, or the current UTC
// month when the date is too short to carry one.
func YearMonth(date string, now time.Time) string {
	if len(date) >= 7 {
		return date[:7]
	}
	return now.UTC().Format("2006-01")
}

// IsYearMonth reports whether s is a well-formed YYYY-MM period.
func IsYearMonth(s string) bool {
	return yearMonthPattern.MatchString(s)
}

// PeriodFromFile returns the period encoded in a partition file name such as
// "2026-02.json".
func PeriodFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	p := strings.TrimSuffix(name, ".json")
	if !IsYearMonth(p) {
		return "", false
	}
	return p, true
}
