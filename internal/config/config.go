// config loads the templated YAML configuration file that describes the
// target AWS account, the bastion instance template and the ECS service
// whose data stores we tunnel to.
//
// The file is rendered through text/template (with the sprig function map,
// so `{{ env "HOME" }}` and friends work) before it is parsed as YAML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "prodbox.yml"

// defaultDatabasePort is applied when instance.database_port is absent.
const defaultDatabasePort = "5432"

type Config struct {
	AWS      AWS      `yaml:"aws"`
	Instance Instance `yaml:"instance"`
	Docker   Docker   `yaml:"docker"`
	ECS      ECS      `yaml:"ecs"`
}

type AWS struct {
	AccountID string `yaml:"account_id"`
	Region    string `yaml:"region"`
}

type Instance struct {
	AMI                  string `yaml:"ami"`
	KeypairName          string `yaml:"keypair_name"`
	SSHKey               string `yaml:"ssh_key"`
	SSHUser              string `yaml:"ssh_user"`
	SSHableSecurityGroup string `yaml:"sshable_security_group"`
	VPCName              string `yaml:"vpc_name"`
	PublicSubnetName     string `yaml:"public_subnet_name"`
	DatabasePort         string `yaml:"database_port"`
}

type Docker struct {
	ImageName string `yaml:"image_name"`
}

type ECS struct {
	SecurityGroup string `yaml:"security_group"`
	Name          string `yaml:"name"`
	ExecutionRole string `yaml:"execution_role"`
}

var (
	ErrRead     = fmt.Errorf("failed to read configuration file")
	ErrRender   = fmt.Errorf("failed to render configuration template")
	ErrParse    = fmt.Errorf("failed to parse configuration file")
	ErrRequired = fmt.Errorf("missing required configuration key")
)

// Load reads, renders and parses the configuration at 'path', then validates
// that every key the run depends on is present. Any failure here is fatal to
// the caller; no resource has been created yet.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	tmpl, err := template.New(path).Funcs(sprig.FuncMap()).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	cfg := new(Config)
	if err := yaml.Unmarshal(rendered.Bytes(), cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		key, value string
	}{
		{"aws.account_id", c.AWS.AccountID},
		{"aws.region", c.AWS.Region},
		{"instance.ami", c.Instance.AMI},
		{"instance.keypair_name", c.Instance.KeypairName},
		{"instance.ssh_key", c.Instance.SSHKey},
		{"instance.sshable_security_group", c.Instance.SSHableSecurityGroup},
		{"instance.vpc_name", c.Instance.VPCName},
		{"instance.public_subnet_name", c.Instance.PublicSubnetName},
		{"docker.image_name", c.Docker.ImageName},
		{"ecs.security_group", c.ECS.SecurityGroup},
		{"ecs.name", c.ECS.Name},
		{"ecs.execution_role", c.ECS.ExecutionRole},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrRequired, r.key)
		}
	}
	return nil
}

// DatabasePort returns instance.database_port, defaulting to "5432".
func (c *Config) DatabasePort() string {
	if c.Instance.DatabasePort == "" {
		return defaultDatabasePort
	}
	return c.Instance.DatabasePort
}

// SSHUser returns instance.ssh_user, defaulting to the stock AMI user.
func (c *Config) SSHUser() string {
	if c.Instance.SSHUser == "" {
		return "ec2-user"
	}
	return c.Instance.SSHUser
}
