/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package pool

import (
	"fmt"
	"time"

	libval "github.com/go-playground/validator/v10"
	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/rhttpclient/rherr"
)

// Config mirrors spec.md §6's pool_* option table, following the
// json/yaml/toml/mapstructure tagging convention of httpcli/options.go's
// Options struct.
type Config struct {
	// MaxSize is pool_max_size: the hard cap on active_connections. Default 2.
	MaxSize int `json:"pool_max_size" yaml:"pool_max_size" toml:"pool_max_size" mapstructure:"pool_max_size" validate:"gte=1"`

	// BufferSize is pool_buffer_size: the max wait-queue length. 0 means
	// unbounded-by-policy, per spec.md §3.
	BufferSize int `json:"pool_buffer_size" yaml:"pool_buffer_size" toml:"pool_buffer_size" mapstructure:"pool_buffer_size" validate:"gte=0"`

	// ConnectTimeout is pool_connect_timeout: how long a waiter tolerates
	// not being served. 0 means no timeout.
	ConnectTimeout time.Duration `json:"pool_connect_timeout" yaml:"pool_connect_timeout" toml:"pool_connect_timeout" mapstructure:"pool_connect_timeout"`

	// KeepAliveTimeout is pool_keep_alive_timeout: park-then-close.
	KeepAliveTimeout time.Duration `json:"pool_keep_alive_timeout" yaml:"pool_keep_alive_timeout" toml:"pool_keep_alive_timeout" mapstructure:"pool_keep_alive_timeout" validate:"gte=0"`

	// CleanPeriod is pool_clean_period: the janitor cadence.
	CleanPeriod time.Duration `json:"pool_clean_period" yaml:"pool_clean_period" toml:"pool_clean_period" mapstructure:"pool_clean_period" validate:"gte=0"`

	// IdleTimeout makes Clean park an active connection that has nothing in
	// flight and has seen no activity for this long; the parked connection
	// is then closed after KeepAliveTimeout. Clean never closes an active
	// connection directly. 0 disables parking.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`

	// MinKeepAliveActive is the "min_keep_alive_active count" spec.md §4.2
	// references: connections are only parked once active_connections
	// exceeds this floor, so a lightly loaded endpoint keeps at least this
	// many warm connections instead of churning them.
	MinKeepAliveActive int `json:"min_keep_alive_active" yaml:"min_keep_alive_active" toml:"min_keep_alive_active" mapstructure:"min_keep_alive_active" validate:"gte=0"`

	// MaxConcurrentPerConnection bounds in_flight_requests per connection:
	// http1_max_concurrent_requests (pipeline depth) or
	// http2_max_concurrent_streams when the server's SETTINGS frame has not
	// yet arrived. The negotiated per-connection value (ManagedConn.
	// MaxConcurrent) always takes precedence once known.
	MaxConcurrentPerConnection int `json:"max_concurrent_per_connection" yaml:"max_concurrent_per_connection" toml:"max_concurrent_per_connection" mapstructure:"max_concurrent_per_connection" validate:"gte=1"`
}

// DefaultConfig returns spec.md §6's documented defaults: pool_max_size=2,
// pool_buffer_size unbounded, pool_keep_alive_timeout=60s,
// pool_clean_period=1s, http1_max_concurrent_requests=1.
func DefaultConfig() Config {
	return Config{
		MaxSize:                    2,
		BufferSize:                 0,
		ConnectTimeout:             0,
		KeepAliveTimeout:           60 * time.Second,
		CleanPeriod:                time.Second,
		IdleTimeout:                0,
		MinKeepAliveActive:         0,
		MaxConcurrentPerConnection: 1,
	}
}

// Validate checks the config with go-playground/validator, the same
// library and error-wrapping shape as httpcli/options.go's Options.Validate.
func (c Config) Validate() liberr.Error {
	e := rherr.ErrRequestParamsInvalid.Error(nil)

	if err := libval.New().Struct(c); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		} else if ve, ok := err.(libval.ValidationErrors); ok {
			for _, fe := range ve {
				//nolint #goerr113
				e.Add(fmt.Errorf("pool config field '%s' fails constraint '%s'", fe.Namespace(), fe.ActualTag()))
			}
		} else {
			e.Add(err)
		}
	}

	if !e.HasParent() {
		return nil
	}
	return e
}
