// Package provision creates the ephemeral compute unit that runs one load.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/observability"
)

// ErrProvisioning is returned when the unit cannot be created or never reaches running.
var ErrProvisioning = errors.New("provisioning failed")

// Defaults.
const (
	DefaultNamePrefix  = "load-stock-price"
	DefaultTemplate    = "load-stock-price-template"
	DefaultWaitTimeout = 5 * time.Minute
	NameTimeLayout     = "20060102150405"
)

// EC2API is the subset of the EC2 client the provisioner uses.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
}

var _ EC2API = (*ec2.Client)(nil)

// Provisioner launches one instance per trigger from a launch template.
type Provisioner struct {
	client       EC2API
	template     string
	zone         string
	namePrefix   string
	uniqueSuffix bool
	waitTimeout  time.Duration
	waiterOpts   []func(*ec2.InstanceRunningWaiterOptions)
	tags         map[string]string
	logger       zerolog.Logger
	now          func() time.Time
	suffix       func() string
}

// Options contains configuration for creating a Provisioner.
type Options struct {
	Client       EC2API
	Template     string        // launch template name, ID (lt-...) or path ending in the name
	Zone         string        // optional availability zone
	NamePrefix   string        // Default: load-stock-price
	UniqueSuffix bool          // append 8 random hex chars to the name
	WaitTimeout  time.Duration // Default: 5m
	WaiterOpts   []func(*ec2.InstanceRunningWaiterOptions)
	Tags         map[string]string // extra instance tags
	Logger       zerolog.Logger
	Now          func() time.Time // Default: time.Now
}

// New creates a new Provisioner.
func New(opts Options) *Provisioner {
	p := &Provisioner{
		client:       opts.Client,
		template:     opts.Template,
		zone:         opts.Zone,
		namePrefix:   opts.NamePrefix,
		uniqueSuffix: opts.UniqueSuffix,
		waitTimeout:  opts.WaitTimeout,
		waiterOpts:   opts.WaiterOpts,
		tags:         opts.Tags,
		logger:       opts.Logger.With().Str("component", "provisioner").Logger(),
		now:          opts.Now,
		suffix:       randomSuffix,
	}
	if p.template == "" {
		p.template = DefaultTemplate
	}
	if p.namePrefix == "" {
		p.namePrefix = DefaultNamePrefix
	}
	if p.waitTimeout <= 0 {
		p.waitTimeout = DefaultWaitTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// InstanceName derives prefix-YYYYMMDDHHMMSS from ts in UTC, plus "-suffix" when set.
func InstanceName(prefix string, ts time.Time, suffix string) string {
	name := strings.TrimSuffix(prefix, "-") + "-" + ts.UTC().Format(NameTimeLayout)
	if suffix != "" {
		name += "-" + suffix
	}
	return name
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Provision creates the unit for event, waits until it is running and describes it.
// The derived name doubles as the idempotency token, so a redelivered event
// resolves to the same instance.
func (p *Provisioner) Provision(ctx context.Context, event domain.TriggerEvent) (*domain.ComputeUnit, error) {
	started := p.now()
	unit, err := p.provision(ctx, event)
	if err != nil {
		observability.RecordProvision("failure", p.now().Sub(started).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	observability.RecordProvision("success", p.now().Sub(started).Seconds())
	return unit, nil
}

func (p *Provisioner) provision(ctx context.Context, event domain.TriggerEvent) (*domain.ComputeUnit, error) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	suffix := ""
	if p.uniqueSuffix {
		suffix = p.suffix()
	}
	name := InstanceName(p.namePrefix, ts, suffix)
	log := p.logger.With().Str("name", name).Str("template", p.template).Logger()

	out, err := p.client.RunInstances(ctx, p.runInput(name, event))
	if err != nil {
		return nil, fmt.Errorf("run instance %s: %w", name, err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return nil, fmt.Errorf("run instance %s: no instance returned", name)
	}
	id := aws.ToString(out.Instances[0].InstanceId)
	log.Info().Str("instance_id", id).Msg("instance requested")

	describe := &ec2.DescribeInstancesInput{InstanceIds: []string{id}}
	waiter := ec2.NewInstanceRunningWaiter(p.client, p.waiterOpts...)
	if err := waiter.Wait(ctx, describe, p.waitTimeout); err != nil {
		return nil, fmt.Errorf("wait for %s running: %w", id, err)
	}

	desc, err := p.client.DescribeInstances(ctx, describe)
	if err != nil {
		return nil, fmt.Errorf("describe instance %s: %w", id, err)
	}
	inst, ok := firstInstance(desc)
	if !ok {
		return nil, fmt.Errorf("describe instance %s: not found", id)
	}

	unit := toComputeUnit(name, p.template, inst)
	log.Info().
		Str("instance_id", unit.InstanceID).
		Str("zone", unit.Zone).
		Str("state", unit.State).
		Msg("instance running")
	return unit, nil
}

func (p *Provisioner) runInput(name string, event domain.TriggerEvent) *ec2.RunInstancesInput {
	tags := []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
	if event.ID != "" {
		tags = append(tags, types.Tag{Key: aws.String("trigger-id"), Value: aws.String(event.ID)})
	}
	for k, v := range p.tags {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	in := &ec2.RunInstancesInput{
		MinCount:       aws.Int32(1),
		MaxCount:       aws.Int32(1),
		ClientToken:    aws.String(name),
		LaunchTemplate: LaunchTemplateSpec(p.template),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         tags,
		}},
	}
	if p.zone != "" {
		in.Placement = &types.Placement{AvailabilityZone: aws.String(p.zone)}
	}
	return in
}

// LaunchTemplateSpec resolves a template reference. "lt-" prefixed values are IDs;
// anything else is a name, and a path such as "global/instanceTemplates/x" is reduced to "x".
func LaunchTemplateSpec(ref string) *types.LaunchTemplateSpecification {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	if strings.HasPrefix(ref, "lt-") {
		return &types.LaunchTemplateSpecification{LaunchTemplateId: aws.String(ref)}
	}
	return &types.LaunchTemplateSpecification{LaunchTemplateName: aws.String(ref)}
}

func firstInstance(out *ec2.DescribeInstancesOutput) (types.Instance, bool) {
	for _, r := range out.Reservations {
		if len(r.Instances) > 0 {
			return r.Instances[0], true
		}
	}
	return types.Instance{}, false
}

func toComputeUnit(name, template string, inst types.Instance) *domain.ComputeUnit {
	unit := &domain.ComputeUnit{
		Name:       name,
		InstanceID: aws.ToString(inst.InstanceId),
		Template:   template,
		PrivateIP:  aws.ToString(inst.PrivateIpAddress),
		LaunchedAt: aws.ToTime(inst.LaunchTime),
	}
	if inst.Placement != nil {
		unit.Zone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.State != nil {
		unit.State = string(inst.State.Name)
	}
	return unit
}
