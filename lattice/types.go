package lattice

// SampleConfig defines a sample whose peak sets are indexed by the service
type SampleConfig struct {
	ID     string  `yaml:"id" json:"id"`
	Topic  string  `yaml:"topic,omitempty" json:"topic,omitempty"`   // MQTT topic carrying peak sets
	ApiURL *string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"` // Optional URL serving the peak set as JSON
}

// LoggingConfig selects level, encoding and destination of log output
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
	Output string `yaml:"output" json:"output"` // stdout, stderr or a file path
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	Indexing IndexConfig    `yaml:"indexing" json:"indexing"`
	Cells    ScanOptions    `yaml:"cells" json:"cells"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Samples  []SampleConfig `yaml:"samples,omitempty" json:"samples,omitempty"`
}

// GetSampleByID returns the sample config for the given ID
func (c *Config) GetSampleByID(id string) *SampleConfig {
	for i := range c.Samples {
		if c.Samples[i].ID == id {
			return &c.Samples[i]
		}
	}
	return nil
}

// HasAPI returns true if the sample's peaks can be fetched over HTTP
func (sc *SampleConfig) HasAPI() bool {
	return sc.ApiURL != nil && *sc.ApiURL != ""
}

// SampleResult is the outcome of indexing one peak set
type SampleResult struct {
	SampleID  string             `json:"sampleId"`
	NumPeaks  int                `json:"numPeaks"`
	Index     IndexResult        `json:"index"`
	Cells     []ConventionalCell `json:"cells"`
	Timestamp int64              `json:"timestamp"`
}

// BestCell returns the top ranked conventional cell, if any
func (r SampleResult) BestCell() (ConventionalCell, bool) {
	if len(r.Cells) == 0 {
		return ConventionalCell{}, false
	}
	return r.Cells[0], true
}

// ResultsData stores the latest result for every sample.
// It is persisted as JSON so a restarted service can serve previous results.
type ResultsData struct {
	Samples     map[string]SampleResult `json:"samples"`
	LastUpdated int64                   `json:"lastUpdated"`
}
