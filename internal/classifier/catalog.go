package classifier

// Entry is one pre-authored answer.
type Entry struct {
	ID         string
	Keywords   []string
	Text       string
	Category   string
	Confidence float64
	FollowUps  []string
}

var catalog = []Entry{
	{
		ID:       "resume-basics",
		Keywords: []string{"resume", "cv", "write resume", "resume help", "resume tips", "curriculum vitae"},
		Text: `Here is a practical resume checklist:

**Structure**
• Contact details, a short professional summary, core skills, experience, education
• Experience in reverse chronological order with clear headings

**Content**
• Open each bullet with an action verb (Led, Built, Reduced)
• Quantify results: "cut onboarding time by 30%" beats "responsible for onboarding"
• Mirror the keywords of the job description you are applying to

**Format**
• One page under ten years of experience, two at most otherwise
• Plain fonts, consistent spacing, exported as PDF
• Standard section names so applicant tracking systems can parse it

Which section would you like to work on first?`,
		Category:   "resume",
		Confidence: 0.95,
		FollowUps: []string{
			"What is your current experience level?",
			"Which industry are you targeting?",
			"Do you need help with a specific resume section?",
		},
	},
	{
		ID:       "resume-experience",
		Keywords: []string{"work experience", "job experience", "resume experience", "no experience", "entry level", "career gap"},
		Text: `Making your experience section work for you:

• Senior profiles: title, company, dates, then three to five impact bullets per role
• Entry level: internships, academic projects and volunteer work all count
• Gaps: name them briefly (study, caregiving, relocation) and show what you kept learning

Would you like help rewriting a specific role?`,
		Category:   "resume",
		Confidence: 0.9,
	},
	{
		ID:       "interview-prep",
		Keywords: []string{"interview", "interview tips", "job interview", "interview preparation", "interview anxiety", "virtual interview"},
		Text: `An interview preparation plan:

**Research**
• The company's mission, products, recent news and competitors
• The role's must-have skills and the team you would join

**Stories**
• Prepare five to seven STAR stories (Situation, Task, Action, Result)
• Rehearse a sixty second introduction

**On the day**
• Test your setup for virtual interviews, arrive early for onsite ones
• Bring two or three thoughtful questions for the interviewer
• Send a short thank-you note within 24 hours

What kind of interview are you preparing for?`,
		Category:   "interview",
		Confidence: 0.95,
		FollowUps: []string{
			"Is this a phone, video or onsite interview?",
			"Which part of the interview worries you most?",
		},
	},
	{
		ID:       "interview-questions",
		Keywords: []string{"interview questions", "common questions", "behavioral questions"},
		Text: `Common interview questions and how to approach them:

• "Tell me about yourself": a two minute summary of relevant experience
• "Why this company?": show your research and what draws you to them
• Strengths and weaknesses: real examples, and a weakness you are actively fixing
• Behavioral questions: answer with STAR and finish on a measurable result

Want to practice an answer together?`,
		Category:   "interview",
		Confidence: 0.85,
	},
	{
		ID:       "job-search-strategy",
		Keywords: []string{"job search", "find job", "looking for job", "job hunting"},
		Text: `An effective job search strategy:

• Platforms: LinkedIn, company career pages and niche boards for your field
• Networking: reach out to former colleagues and attend industry events
• Applications: tailor each resume and follow up after one to two weeks
• Tracking: keep a simple log of roles, contacts and next steps

What kind of role are you targeting?`,
		Category:   "job-search",
		Confidence: 0.9,
		FollowUps: []string{
			"Which industry or role are you targeting?",
			"How long have you been searching?",
		},
	},
	{
		ID:       "salary-negotiation",
		Keywords: []string{"salary", "negotiate salary", "pay negotiation", "salary range"},
		Text: `Salary negotiation basics:

• Research market rates for the role, level and location before you talk numbers
• Let the offer arrive first, then respond with enthusiasm and a clear counter
• Negotiate the whole package: bonus, equity, leave, remote days, learning budget
• Rehearse the conversation and anchor it on the value you bring

Do you have an offer on the table right now?`,
		Category:   "salary",
		Confidence: 0.85,
		FollowUps: []string{
			"Do you already have a written offer?",
			"Have you researched the market range for this role?",
		},
	},
	{
		ID:       "skill-development",
		Keywords: []string{"skills", "learn skills", "skill development", "upskill", "reskill"},
		Text: `Building new skills:

• Compare job postings in your target field to spot the gaps
• Learn through structured courses, then apply it in portfolio projects
• Add a recognised certification where your industry values them
• Find a mentor or community to keep you accountable

Which skill would you like to develop?`,
		Category:   "skills",
		Confidence: 0.8,
	},
	{
		ID:       "career-change",
		Keywords: []string{"career change", "switch careers", "new career", "career transition"},
		Text: `Planning a career change:

• List the transferable skills and values you want to keep
• Research the target field's entry paths and salary expectations
• Test it through freelance work, side projects or volunteering
• Hold informational interviews with people already doing the job

Which field are you considering?`,
		Category:   "career-change",
		Confidence: 0.85,
	},
	{
		ID:       "workplace-conflict",
		Keywords: []string{"workplace conflict", "difficult boss", "work problems", "office politics"},
		Text: `Handling workplace challenges:

• Raise issues directly and professionally, and document key conversations
• Set clear boundaries and learn to say no diplomatically
• Build allies, find a mentor, and involve HR when it is warranted
• Keep the focus on solutions rather than blame

What situation are you dealing with?`,
		Category:   "workplace",
		Confidence: 0.8,
	},
	{
		ID:       "career-planning",
		Keywords: []string{"career goals", "career planning", "career path", "professional development", "career roadmap"},
		Text: `Building a career roadmap:

• Define where you want to be in one, three and five years
• Break each horizon into skills, experiences and relationships you need
• Review progress every quarter and adjust

Where would you like to be in three years?`,
		Category:   "general",
		Confidence: 0.9,
	},
	{
		ID:       "networking-strategy",
		Keywords: []string{"networking", "professional network", "linkedin", "relationship building", "connections"},
		Text: `Growing a professional network:

• Keep your LinkedIn profile current and share what you are working on
• Reconnect with former colleagues and classmates regularly
• Offer help before you ask for it
• Attend a few events per quarter and follow up within a week

Who would you most like to connect with?`,
		Category:   "networking",
		Confidence: 0.85,
	},
	{
		ID:       "leadership-development",
		Keywords: []string{"leadership", "management", "team lead", "leadership skills", "executive presence"},
		Text: `Developing as a leader:

• Hold regular one-on-ones and really listen
• Delegate outcomes, not tasks
• Give specific feedback early and often
• Ask your own manager for stretch responsibilities

Are you leading a team already or preparing to?`,
		Category:   "leadership",
		Confidence: 0.88,
	},
	{
		ID:       "salary-negotiation-advanced",
		Keywords: []string{"salary negotiation", "negotiate salary", "pay raise", "compensation", "salary increase", "underpaid"},
		Text: `Asking for a raise:

• Collect evidence: results delivered, scope added, market data
• Time it after a win or ahead of the budget cycle, not during layoffs
• Name a specific number and explain the reasoning
• If the answer is no, agree on the milestones that would make it yes

When is your next performance review?`,
		Category:   "salary",
		Confidence: 0.92,
	},
	{
		ID:       "remote-work-strategy",
		Keywords: []string{"remote work", "work from home", "virtual team", "digital nomad", "hybrid work", "flexible work"},
		Text: `Thriving in remote or hybrid work:

• Protect a dedicated workspace and clear working hours
• Over-communicate progress in writing
• Make your work visible with short weekly updates
• Schedule informal time with teammates

Are you looking for a remote role or improving how you work remotely?`,
		Category:   "workplace",
		Confidence: 0.87,
	},
	{
		ID:       "personal-branding",
		Keywords: []string{"personal brand", "online presence", "professional image", "thought leadership", "social media"},
		Text: `Building a personal brand:

• Pick two or three topics you want to be known for
• Share what you learn consistently, in short posts or articles
• Keep your profiles aligned around the same story
• Engage with others' work, not just your own

What would you like people to associate with your name?`,
		Category:   "networking",
		Confidence: 0.89,
	},
}

const redirectText = `I'm a career counselor focused on professional development and job-related questions. I can help with:

• Job searching and applications
• Resume and interview preparation
• Career planning and transitions
• Skill development and training
• Workplace challenges
• Salary negotiation and benefits

How can I help you with your career goals today?`

var careerKeywords = []string{
	"job", "career", "work", "resume", "cv", "interview", "salary", "skill", "professional",
	"employment", "workplace", "boss", "company", "application", "promotion", "manager",
	"leadership", "networking", "linkedin", "portfolio", "experience", "qualification",
	"training", "development", "growth", "opportunity", "position", "role", "industry",
	"developer", "engineer", "programmer", "analyst", "consultant", "designer", "architect",
	"it", "tech", "software", "full stack", "frontend", "backend", "devops", "data scientist",
	"project manager", "product manager", "marketing", "sales", "hr", "finance", "accounting",
	"years", "year", "months", "fresher", "junior", "senior", "lead", "principal", "director",
	"skills", "technologies", "programming", "coding", "languages", "frameworks",
	"hiring", "recruitment", "apply", "candidate", "employer", "recruiter",
}

// exactMatches maps trigger phrases to the entry served for them.
// Everything else that is career related goes to the generator.
var exactMatches = []struct {
	phrases []string
	entryID string
}{
	{[]string{"resume tips", "how to write resume", "resume help"}, "resume-basics"},
	{[]string{"interview tips", "interview help", "interview preparation"}, "interview-prep"},
	{[]string{"job search tips", "how to find job", "job hunting"}, "job-search-strategy"},
	{[]string{"salary negotiation", "negotiate salary"}, "salary-negotiation"},
}
