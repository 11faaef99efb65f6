package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀，键形如 AGENTWRAP_SERVER_HTTP_PORT
const DefaultEnvPrefix = "AGENTWRAP"

// Loader 依次叠加 默认值、YAML 文件、环境变量，最后跑校验器。
//
//	cfg, err := config.NewLoader().WithConfigPath("agentwrap.yaml").Load()
type Loader struct {
	path       string
	prefix     string
	lookup     func(string) (string, bool)
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{prefix: DefaultEnvPrefix, lookup: os.LookupEnv}
}

// WithConfigPath 文件不存在时静默使用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.readFile(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", l.path, err)
	}
	if err := l.overlayEnv(cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

// readFile 解析前展开 ${VAR}，密钥可以不落盘
func (l *Loader) readFile(cfg *Config) error {
	if l.path == "" {
		return nil
	}
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	expanded := os.Expand(string(raw), func(k string) string {
		v, _ := l.lookup(k)
		return v
	})
	return yaml.Unmarshal([]byte(expanded), cfg)
}

// envField 一个可被环境变量覆盖的叶子字段
type envField struct {
	key   string
	value reflect.Value
}

func (l *Loader) overlayEnv(cfg *Config) error {
	for _, f := range envFields(reflect.ValueOf(cfg).Elem(), l.prefix) {
		raw, ok := l.lookup(f.key)
		if !ok || raw == "" {
			continue
		}
		if err := assign(f.value, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", f.key, raw, err)
		}
	}
	return nil
}

// envFields 展开嵌套结构体，键由各级 env 标签以 _ 相连
func envFields(v reflect.Value, prefix string) []envField {
	var out []envField
	for i := range v.NumField() {
		tag := v.Type().Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key, fv := prefix+"_"+tag, v.Field(i)
		if fv.Kind() == reflect.Struct {
			out = append(out, envFields(fv, key)...)
			continue
		}
		out = append(out, envField{key: key, value: fv})
	}
	return out
}

var durationType = reflect.TypeFor[time.Duration]()

func assign(v reflect.Value, raw string) error {
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64, reflect.Int32:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		// 逗号分隔
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", v.Type())
		}
		parts := strings.Split(raw, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		v.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

// DSN gorm 连接串；驱动未知时为空
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		return d.Name
	case "mysql":
		return d.User + ":" + d.Password + "@tcp(" + d.Host + ":" + strconv.Itoa(d.Port) + ")/" + d.Name + "?parseTime=true"
	case "postgres":
		pairs := []string{
			"host=" + d.Host,
			"port=" + strconv.Itoa(d.Port),
			"user=" + d.User,
			"password=" + d.Password,
			"dbname=" + d.Name,
		}
		if d.SSLMode != "" {
			pairs = append(pairs, "sslmode="+d.SSLMode)
		}
		return strings.Join(pairs, " ")
	}
	return ""
}
