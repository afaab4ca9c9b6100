package pipeline

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/parse"
	"github.com/noahsdonaldson/prospector/internal/prompts"
	"github.com/noahsdonaldson/prospector/internal/quality"
	"github.com/noahsdonaldson/prospector/internal/search"
)

func (s *runState) strategicObjectives() error {
	const stage = model.StageStrategicObjectives
	company := s.run.CompanyName
	if err := s.progress(stage, stageStart[stage], fmt.Sprintf("Researching %s's strategic objectives...", company)); err != nil {
		return err
	}

	res := s.searchTopic(prompts.TopicStrategicObjectives)
	raw, err := s.generate(stage, prompts.WithWebContext(webContext(res), s.p.prompts.Step1(company)))
	if err != nil {
		return err
	}

	result := s.record(stage, raw, citations(res))
	s.run.Steps.StrategicObjectives = result
	s.run.Industry = parse.Industry(result.Data, raw)
	if s.run.Industry != "" {
		s.log.Info("pipeline: industry identified", zap.String("industry", s.run.Industry))
	}
	return s.stepComplete(stage, result.Data)
}

func (s *runState) buAlignment() error {
	const stage = model.StageBUAlignment
	if err := s.progress(stage, stageStart[stage], "Mapping business unit alignment..."); err != nil {
		return err
	}

	res := s.searchTopic(prompts.TopicBusinessUnits)
	prompt := s.p.prompts.Step2(s.run.CompanyName, s.raw(model.StageStrategicObjectives))
	raw, err := s.generate(stage, prompts.WithWebContext(webContext(res), prompt))
	if err != nil {
		return err
	}

	result := s.record(stage, raw, citations(res))
	s.run.Steps.BUAlignment = result
	return s.stepComplete(stage, result.Data)
}

// unitRun is one deep-dive's outcome before it is folded into the run.
type unitRun struct {
	res      search.Result
	searched bool
	resp     *llm.Response
}

func (s *runState) buDeepDive() error {
	const stage = model.StageBUDeepDive
	units := parse.BusinessUnits(s.run.Steps.BUAlignment.Data, s.raw(model.StageBUAlignment))
	if len(units) > s.p.maxUnits {
		units = units[:s.p.maxUnits]
	}

	if err := s.progress(stage, stageStart[stage], fmt.Sprintf("Analyzing %d business units...", len(units))); err != nil {
		return err
	}

	runs := make([]unitRun, len(units))
	var err error
	if s.p.parallel {
		err = s.deepDiveParallel(units, runs)
	} else {
		err = s.deepDiveSequential(units, runs)
	}

	result := &model.DeepDiveResult{
		Step:      stage,
		Name:      model.StageNames[stage],
		Status:    model.StageStatusComplete,
		Units:     []string{},
		Data:      make(map[string]model.UnitResult, len(units)),
		Citations: []model.Citation{},
	}
	s.units = s.units[:0]
	for i, u := range units {
		r := runs[i]
		if r.searched {
			s.countSearches(1)
		}
		if r.resp == nil {
			continue
		}
		s.account(r.resp)
		result.Units = append(result.Units, u)
		result.Data[u] = model.UnitResult{Data: parse.Parse(r.resp.Text), Raw: r.resp.Text}
		result.Citations = append(result.Citations, r.res.Citations...)
		s.units = append(s.units, model.UnitContext{Name: u, Raw: r.resp.Text})
	}
	if err != nil {
		return err
	}

	s.run.Steps.BUDeepDive = result
	return s.stepComplete(stage, result.Data)
}

func (s *runState) unitProgress(idx int, unit string) error {
	return s.progress(model.StageBUDeepDive, stageStart[model.StageBUDeepDive]+idx*5, fmt.Sprintf("Deep-dive: %s", unit))
}

func (s *runState) deepDiveSequential(units []string, runs []unitRun) error {
	step1 := s.raw(model.StageStrategicObjectives)
	for i, u := range units {
		if err := s.unitProgress(i, u); err != nil {
			return err
		}
		res, searched := s.lookup(s.ctx, prompts.TopicUnit(u))
		runs[i].res, runs[i].searched = res, searched

		prompt := prompts.WithWebContext(webContext(res), s.p.prompts.Step3(s.run.CompanyName, u, step1))
		resp, err := s.call(s.ctx, model.StageBUDeepDive, prompt)
		if err != nil {
			return err
		}
		runs[i].resp = resp
	}
	return nil
}

// deepDiveParallel reports every unit's progress up front, then runs the
// units concurrently. Results land in runs by index.
func (s *runState) deepDiveParallel(units []string, runs []unitRun) error {
	for i, u := range units {
		if err := s.unitProgress(i, u); err != nil {
			return err
		}
	}

	step1 := s.raw(model.StageStrategicObjectives)
	g, gctx := errgroup.WithContext(s.ctx)
	for i, u := range units {
		g.Go(func() error {
			res, searched := s.lookup(gctx, prompts.TopicUnit(u))
			runs[i].res, runs[i].searched = res, searched

			prompt := prompts.WithWebContext(webContext(res), s.p.prompts.Step3(s.run.CompanyName, u, step1))
			resp, err := s.call(gctx, model.StageBUDeepDive, prompt)
			if err != nil {
				return err
			}
			runs[i].resp = resp
			return nil
		})
	}
	return g.Wait()
}

func (s *runState) aiAlignment() error {
	const stage = model.StageAIAlignment
	if err := s.progress(stage, stageStart[stage], "Mapping AI use cases..."); err != nil {
		return err
	}

	res := s.searchTopic(prompts.TopicAIInitiatives)
	prompt := s.p.prompts.Step4(s.run.CompanyName, s.raw(model.StageStrategicObjectives), s.units)
	raw, err := s.generate(stage, prompts.WithWebContext(webContext(res), prompt))
	if err != nil {
		return err
	}

	result := s.record(stage, raw, citations(res))
	s.run.Steps.AIAlignment = result
	return s.stepComplete(stage, result.Data)
}

func (s *runState) personaMapping() error {
	const stage = model.StagePersonaMapping
	if err := s.progress(stage, stageStart[stage], "Identifying key decision makers..."); err != nil {
		return err
	}

	var res search.Result
	if s.p.search != nil {
		res = s.p.search.SearchExecutivesMulti(s.ctx, s.run.CompanyName, s.p.executiveRoles)
		s.countSearches(len(s.p.executiveRoles))
	}
	web := webContext(res)

	prompt := prompts.WithWebContext(web, s.p.prompts.Step5(
		s.run.CompanyName,
		s.raw(model.StageStrategicObjectives),
		s.units,
		s.raw(model.StageAIAlignment),
	))
	raw, err := s.generate(stage, prompt)
	if err != nil {
		return err
	}

	if quality.NeedsRetry(raw) {
		s.log.Info("pipeline: persona output has placeholder names, retrying")
		if err := s.progress(stage, retryProgress, "Refining executive search..."); err != nil {
			return err
		}
		s.meta.Retries++
		personaRetry.Inc()
		raw, err = s.generate(stage, s.p.prompts.Step5Retry(web, prompt))
		if err != nil {
			return err
		}
	}

	result := s.record(stage, raw, citations(res))
	s.run.Steps.PersonaMapping = result
	return s.stepComplete(stage, result.Data)
}

func (s *runState) valueRealization() error {
	const stage = model.StageValueRealization
	if err := s.progress(stage, stageStart[stage], "Building value realization table..."); err != nil {
		return err
	}

	raw, err := s.generate(stage, s.p.prompts.Step6(
		s.run.CompanyName,
		s.raw(model.StageStrategicObjectives),
		s.raw(model.StageAIAlignment),
		s.raw(model.StagePersonaMapping),
	))
	if err != nil {
		return err
	}

	result := s.record(stage, raw, []model.Citation{})
	s.run.Steps.ValueRealization = result
	return s.stepComplete(stage, result.Data)
}

func (s *runState) outreachEmail() error {
	const stage = model.StageOutreachEmail
	if err := s.progress(stage, stageStart[stage], "Generating personalized outreach..."); err != nil {
		return err
	}

	raw, err := s.generate(stage, s.p.prompts.Step7(
		s.run.CompanyName,
		s.raw(model.StageStrategicObjectives),
		s.raw(model.StageAIAlignment),
		s.raw(model.StagePersonaMapping),
		s.raw(model.StageValueRealization),
	))
	if err != nil {
		return err
	}

	result := s.record(stage, raw, []model.Citation{})
	s.run.Steps.OutreachEmail = result
	return s.stepComplete(stage, result.Data)
}
