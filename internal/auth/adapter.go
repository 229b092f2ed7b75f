package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"

	"github.com/bher20/rentledger/internal/storage"
)

// Adapter implements the casbin persist.Adapter interface on top of storage.
type Adapter struct {
	storage storage.AccountStore
}

func NewAdapter(s storage.AccountStore) *Adapter {
	return &Adapter{storage: s}
}

func ruleValues(r storage.CasbinRule) []string {
	vals := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	n := len(vals)
	for n > 0 && vals[n-1] == "" {
		n--
	}
	return vals[:n]
}

func toRule(ptype string, vals []string) storage.CasbinRule {
	r := storage.CasbinRule{PType: ptype}
	fields := []*string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i, v := range vals {
		if i >= len(fields) {
			break
		}
		*fields[i] = v
	}
	return r
}

func (a *Adapter) LoadPolicy(m model.Model) error {
	rules, err := a.storage.LoadCasbinRules(context.Background())
	if err != nil {
		return err
	}
	for _, r := range rules {
		line := strings.Join(append([]string{r.PType}, ruleValues(r)...), ", ")
		if err := persist.LoadPolicyLine(line, m); err != nil {
			return err
		}
	}
	return nil
}

// SavePolicy is unused; every change goes through AddPolicy and RemovePolicy.
func (a *Adapter) SavePolicy(m model.Model) error {
	return errors.New("auth adapter: SavePolicy not supported")
}

func (a *Adapter) AddPolicy(sec, ptype string, rule []string) error {
	return a.storage.AddCasbinRule(context.Background(), toRule(ptype, rule))
}

func (a *Adapter) RemovePolicy(sec, ptype string, rule []string) error {
	return a.storage.RemoveCasbinRule(context.Background(), toRule(ptype, rule))
}

// RemoveFilteredPolicy removes every stored rule whose values match the
// non-empty fieldValues starting at fieldIndex.
func (a *Adapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error {
	ctx := context.Background()
	rules, err := a.storage.LoadCasbinRules(ctx)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.PType != ptype {
			continue
		}
		vals := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
		match := true
		for i, fv := range fieldValues {
			idx := fieldIndex + i
			if fv == "" || idx >= len(vals) {
				continue
			}
			if vals[idx] != fv {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if err := a.storage.RemoveCasbinRule(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
